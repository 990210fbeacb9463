package model

// Space は予約可能な大学のスペース (教室・ラボ・会議室など) を表します
// スペースカタログから読み込まれ、ストアからは参照のみされます
type Space struct {
	ID          int    `json:"id" yaml:"id" validate:"required,gt=0"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Type        string `json:"type" yaml:"type" validate:"required"`
	Capacity    int    `json:"capacity" yaml:"capacity" validate:"gte=1"`
	Description string `json:"description" yaml:"description"`
	Image       string `json:"image_path" yaml:"image_path"`
}
