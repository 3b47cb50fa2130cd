package configuration

import (
	"github.com/go-playground/validator/v10"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
)

func (c FirehoseConfiguration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Load.TotalRows < int64(c.Load.Parallelism) {
		return &loaderrors.ErrInvalidArgument{
			Name:    "load.totalRows",
			Value:   c.Load.TotalRows,
			Message: "must be at least load.parallelism so that every shard has rows to load",
		}
	}
	return nil
}
