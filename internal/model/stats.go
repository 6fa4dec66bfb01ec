package model

// SubredditCount はサブレディットごとの保存済み投稿数を表す。
type SubredditCount struct {
	Subreddit string `json:"subreddit"`
	Count     int    `json:"count"`
}

// PostStats は保存済み投稿の集計結果を表す。
type PostStats struct {
	TotalPosts         int              `json:"totalPosts"`
	TotalComments      int              `json:"totalComments"`
	ActiveSubreddits   int              `json:"activeSubreddits"`
	AverageScore       int              `json:"averageScore"`
	AverageComments    int              `json:"averageComments"`
	AverageUpvoteRatio float64          `json:"averageUpvoteRatio"`
	TopSubreddits      []SubredditCount `json:"topSubreddits"`
}
