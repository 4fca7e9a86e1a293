package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Storage.Backend == "minio" && (cfg.Storage.AccessKeyID == "") != (cfg.Storage.SecretAccessKey == "") {
		return errors.New("storage: access key and secret key must be set together")
	}
	if cfg.Pipeline.MaxPages > 9999 {
		return fmt.Errorf("pipeline: max pages %d exceeds the page path width", cfg.Pipeline.MaxPages)
	}

	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
