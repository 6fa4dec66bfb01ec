// Package model はドメインモデルを定義する。
package model

import "time"

// User はダッシュボード利用ユーザーを表す。
// ユーザー登録は外部の認証基盤が行い、本サービスは参照のみ行う。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// UserEmailはusersテーブルとJOINして取得される。
type Session struct {
	ID        string
	UserID    string
	UserEmail string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SearchHistory はユーザーのサブレディット検索履歴を表す。
type SearchHistory struct {
	ID          string
	UserID      string
	Query       string
	ResultCount int
	SearchedAt  time.Time
}
