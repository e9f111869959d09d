package store

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/booksight/internal/store/repository"
)

var Module = fx.Module("store",
	fx.Provide(repository.Provide),
)
