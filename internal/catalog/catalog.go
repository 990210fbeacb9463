// Package catalog は予約可能なスペースの一覧 (スペースカタログ) を読み込み、参照を提供します
// カタログは読み込み後に変更されません
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Rosvend/university-reservations/internal/model"
)

var log = logging.Logger("catalog")

//go:embed spaces.json
var defaultDocument []byte

// AllTypes は FilterByType で全件を表す種別名です
const AllTypes = "all"

// Format はカタログ文書の形式です
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrEmptyCatalog はスペースが1件も定義されていない場合のエラーです
var ErrEmptyCatalog = errors.New("catalog has no spaces")

// Catalog はスペースIDをキーとした読み取り専用のカタログです
type Catalog struct {
	spaces []model.Space
	byID   map[int]model.Space
}

// TypeCount はスペース種別ごとの件数です
type TypeCount struct {
	Type  string
	Count int
}

type document struct {
	Spaces []model.Space `json:"spaces" yaml:"spaces"`
}

// New はスペースの一覧からカタログを作成します
// 各スペースを検証し、IDの重複があればエラーを返します
func New(spaces []model.Space) (*Catalog, error) {
	if len(spaces) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		spaces: make([]model.Space, 0, len(spaces)),
		byID:   make(map[int]model.Space, len(spaces)),
	}
	for i, s := range spaces {
		if err := model.Validator().Struct(s); err != nil {
			return nil, fmt.Errorf("invalid space at index %d: %w", i, err)
		}
		if _, ok := c.byID[s.ID]; ok {
			return nil, fmt.Errorf("duplicate space id %d", s.ID)
		}
		c.byID[s.ID] = s
		c.spaces = append(c.spaces, s)
	}
	return c, nil
}

// Default はモジュールに同梱されたカタログを返します
func Default() (*Catalog, error) {
	return Parse(defaultDocument, FormatJSON)
}

// Parse はカタログ文書 ({"spaces": [...]}) を解析します
func Parse(data []byte, format Format) (*Catalog, error) {
	var doc document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse catalog json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse catalog yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	return New(doc.Spaces)
}

// Load はファイルからカタログを読み込みます
// 拡張子が .yaml / .yml の場合はYAML、それ以外はJSONとして解析します
// path が空の場合は同梱のカタログを返します
func Load(fsys afero.Fs, path string) (*Catalog, error) {
	if path == "" {
		log.Debugf("No catalog path configured, using the embedded catalog")
		return Default()
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	c, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	log.Infof("Loaded %d spaces from %s", c.Len(), path)
	return c, nil
}

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Lookup はIDに対応するスペースを返します
func (c *Catalog) Lookup(id int) (model.Space, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Len はスペースの件数を返します
func (c *Catalog) Len() int {
	return len(c.spaces)
}

// Spaces はカタログ順のスペース一覧を返します
func (c *Catalog) Spaces() []model.Space {
	return append([]model.Space(nil), c.spaces...)
}

// FilterByType は指定した種別のスペースを返します
// spaceType が空または AllTypes の場合は全件を返します
func (c *Catalog) FilterByType(spaceType string) []model.Space {
	if spaceType == "" || spaceType == AllTypes {
		return c.Spaces()
	}
	var filtered []model.Space
	for _, s := range c.spaces {
		if s.Type == spaceType {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Types は種別名の昇順で種別ごとの件数を返します
func (c *Catalog) Types() []TypeCount {
	counts := make(map[string]int)
	for _, s := range c.spaces {
		counts[s.Type]++
	}
	types := make([]TypeCount, 0, len(counts))
	for t, n := range counts {
		types = append(types, TypeCount{Type: t, Count: n})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })
	return types
}
