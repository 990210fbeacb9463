package model

import "time"

// FormatDate は YYYY-MM-DD 形式の日付を "December 31, 2025" 形式に変換します
// 解析できない場合は入力をそのまま返します
func FormatDate(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("January 2, 2006")
}

// FormatTime は HH:MM 形式の時刻を12時間表記 ("2:05 PM") に変換します
// 解析できない場合は入力をそのまま返します
func FormatTime(clock string) string {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return clock
	}
	return t.Format("3:04 PM")
}
