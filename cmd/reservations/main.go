package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/Rosvend/university-reservations/internal/model"
)

// version はビルド時に -ldflags で設定されます
var version = "dev"

func main() {
	app := &app{v: viper.New(), fsys: afero.NewOsFs()}
	if err := newRootCmd(app).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error (%s): %v\n", errorKind(err), err)
		os.Exit(1)
	}
}

// errorKind は予約ストアのエラーの種類を表示用の名前で返します
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrDuplicateBooking):
		return "duplicate booking"
	case errors.Is(err, model.ErrNotFound):
		return "not found"
	case errors.Is(err, model.ErrStorage):
		return "storage"
	default:
		return "error"
	}
}
