package recipe

import "errors"

var (
	ErrRecipe        = errors.New("invalid recipe")
	ErrUnknownFormat = errors.New("unknown recipe format")
)
