package model

// Notice は操作結果として利用者に一時表示する通知を表す。
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Variant     string `json:"variant,omitempty"` // "" または "destructive"
}

// NewNotice は通常の通知を生成する。
func NewNotice(title, description string) *Notice {
	return &Notice{Title: title, Description: description}
}
