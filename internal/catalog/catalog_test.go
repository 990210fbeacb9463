package catalog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Rosvend/university-reservations/internal/model"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Greater(t, c.Len(), 0)

	s, ok := c.Lookup(1)
	require.True(t, ok)
	require.Equal(t, "Main Library Study Room", s.Name)

	_, ok = c.Lookup(9999)
	require.False(t, ok)
}

func TestNew_Invalid(t *testing.T) {
	valid := model.Space{ID: 1, Name: "Room", Type: "Study Room", Capacity: 4}

	tests := []struct {
		name   string
		spaces []model.Space
	}{
		{name: "空のカタログ", spaces: nil},
		{name: "IDが0", spaces: []model.Space{{ID: 0, Name: "Room", Type: "Study Room", Capacity: 4}}},
		{name: "名前が空", spaces: []model.Space{{ID: 2, Type: "Study Room", Capacity: 4}}},
		{name: "種別が空", spaces: []model.Space{{ID: 2, Name: "Room", Capacity: 4}}},
		{name: "定員が0", spaces: []model.Space{{ID: 2, Name: "Room", Type: "Study Room"}}},
		{name: "IDの重複", spaces: []model.Space{valid, valid}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spaces)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/spaces.yaml", []byte(`
spaces:
  - id: 10
    name: Robotics Lab
    type: Laboratory
    capacity: 16
    description: Robot arms and 3D printers
    image_path: /images/robotics.jpg
  - id: 11
    name: Board Room
    type: Meeting Room
    capacity: 10
`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/etc/spaces.json", []byte(`{"spaces":[{"id":20,"name":"Gym","type":"Sports Facility","capacity":50}]}`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/etc/broken.json", []byte(`{"spaces":`), 0o644))

	t.Run("YAML", func(t *testing.T) {
		c, err := Load(fsys, "/etc/spaces.yaml")
		require.NoError(t, err)
		want := []model.Space{
			{ID: 10, Name: "Robotics Lab", Type: "Laboratory", Capacity: 16, Description: "Robot arms and 3D printers", Image: "/images/robotics.jpg"},
			{ID: 11, Name: "Board Room", Type: "Meeting Room", Capacity: 10},
		}
		if diff := cmp.Diff(want, c.Spaces()); diff != "" {
			t.Errorf("Spaces() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		c, err := Load(fsys, "/etc/spaces.json")
		require.NoError(t, err)
		s, ok := c.Lookup(20)
		require.True(t, ok)
		require.Equal(t, "Gym", s.Name)
	})

	t.Run("パスが空の場合は同梱のカタログ", func(t *testing.T) {
		c, err := Load(fsys, "")
		require.NoError(t, err)
		def, err := Default()
		require.NoError(t, err)
		require.Equal(t, def.Len(), c.Len())
	})

	t.Run("壊れた文書", func(t *testing.T) {
		_, err := Load(fsys, "/etc/broken.json")
		require.Error(t, err)
	})

	t.Run("存在しないファイル", func(t *testing.T) {
		_, err := Load(fsys, "/etc/missing.json")
		require.Error(t, err)
	})
}

func TestFilterAndTypes(t *testing.T) {
	c, err := New([]model.Space{
		{ID: 1, Name: "Lab A", Type: "Laboratory", Capacity: 30},
		{ID: 2, Name: "Room 1", Type: "Study Room", Capacity: 6},
		{ID: 3, Name: "Lab B", Type: "Laboratory", Capacity: 20},
	})
	require.NoError(t, err)

	require.Len(t, c.FilterByType(""), 3)
	require.Len(t, c.FilterByType(AllTypes), 3)
	require.Empty(t, c.FilterByType("Auditorium"))

	labs := c.FilterByType("Laboratory")
	require.Len(t, labs, 2)
	require.Equal(t, 1, labs[0].ID)
	require.Equal(t, 3, labs[1].ID)

	require.Equal(t, []TypeCount{
		{Type: "Laboratory", Count: 2},
		{Type: "Study Room", Count: 1},
	}, c.Types())

	// 返したスライスを書き換えてもカタログは変わらない
	spaces := c.Spaces()
	spaces[0].Name = "changed"
	s, _ := c.Lookup(1)
	require.Equal(t, "Lab A", s.Name)
	require.Equal(t, "Lab A", c.Spaces()[0].Name)
}
