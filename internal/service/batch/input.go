package batch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Rosvend/university-reservations/internal/model"
)

type commandFile struct {
	Commands []model.BatchCommand `json:"commands" yaml:"commands"`
}

// ReadCommands は予約バッチのコマンドファイル ({"commands": [...]}) を読み込みます
// 拡張子が .yaml / .yml の場合はYAML、それ以外はJSONとして解析します
func ReadCommands(fsys afero.Fs, path string) ([]model.BatchCommand, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands %s: %w", path, err)
	}

	var file commandFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse commands %s: %w", path, err)
	}
	return file.Commands, nil
}

// ParseTaskInput は予約バッチの出力 (TaskOutput) から予約イベントを取り出します
// 通知バッチの入力として使います
func ParseTaskInput(data []byte) ([]model.ReservationEvent, error) {
	var output TaskOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("failed to parse task input: %w", err)
	}
	return output.Events, nil
}
