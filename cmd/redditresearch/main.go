// redditresearch はRedditダッシュボードのAPIサーバー、ワーカー、マイグレーションを起動するバイナリ。
//
//	redditresearch serve        APIサーバー（デフォルト）
//	redditresearch worker       サブレディットのリフレッシュと保持期間クリーンアップ
//	redditresearch migrate      データベースマイグレーション
//	redditresearch healthcheck  /health の疎通確認（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/Lemmeyg/redditresearch/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
