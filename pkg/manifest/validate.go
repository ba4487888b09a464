package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/rasterbench/internal/assets/schemas"
	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID is the schema identifier for provider manifests.
const SchemaID = "rasterbench/v1.0.0/providers-manifest"

// Validation errors
var (
	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g. "/providers/0/baseURL").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate performs the semantic checks the schema cannot express:
// unique names, connection details for remote backends, and consistency
// between the local flag and an explicit mode.
func Validate(m *Manifest) error {
	var errs ValidationErrors
	seen := make(map[string]int, len(m.Providers))

	for i, b := range m.Providers {
		at := fmt.Sprintf("/providers/%d", i)

		name := strings.TrimSpace(b.Name)
		if name == "" {
			errs = append(errs, ValidationError{Path: at + "/name", Message: "name is required"})
		} else if strings.ContainsAny(name, `/\`) {
			errs = append(errs, ValidationError{Path: at + "/name", Message: "name must not contain path separators"})
		} else if prev, dup := seen[name]; dup {
			errs = append(errs, ValidationError{
				Path:    at + "/name",
				Message: fmt.Sprintf("duplicate backend name %q (also at /providers/%d)", name, prev),
			})
		} else {
			seen[name] = i
		}

		var mode provider.ExecutionMode
		if b.Mode != "" {
			parsed, err := provider.ParseExecutionMode(b.Mode)
			if err != nil {
				errs = append(errs, ValidationError{Path: at + "/mode", Message: err.Error()})
				continue
			}
			mode = parsed
		}

		if b.Local {
			if mode != "" && mode != provider.ModeLocal {
				errs = append(errs, ValidationError{
					Path:    at + "/mode",
					Message: fmt.Sprintf("mode %q conflicts with local: true", b.Mode),
				})
			}
			continue
		}
		if mode == provider.ModeLocal {
			errs = append(errs, ValidationError{Path: at + "/mode", Message: "mode local requires local: true"})
			continue
		}

		if strings.TrimSpace(b.BaseURL) == "" {
			errs = append(errs, ValidationError{Path: at + "/baseURL", Message: "baseURL is required for remote backends"})
		}
		if b.Credentials == nil {
			errs = append(errs, ValidationError{Path: at + "/credentials", Message: "credentials are required for remote backends"})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateRaw checks raw JSON data against the embedded manifest schema.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{
				Path:    d.Pointer,
				Message: d.Message,
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.ProvidersManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded providers-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.ProvidersManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
