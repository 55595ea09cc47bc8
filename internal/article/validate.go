package article

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/article-forge/internal/forge"
)

const maxValidationMessage = 300

var slugPattern = regexp.MustCompile(`^[a-z0-9-]{3,200}$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance returns the shared validator with json tag names and the
// document-specific rules registered.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			return slugPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("robots", func(fl validator.FieldLevel) bool {
			return fl.Field().String() == Robots
		})
		validate = v
	})
	return validate
}

// Validate decodes raw and checks it against the document schema. It never
// repairs: the first violation in path order is returned as a KindValidation
// error of the form "{path}: {message}".
func Validate(raw []byte) (Document, error) {
	const op = "article.Validate"
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Document{}, validationError(op, "", "empty document", nil)
	}
	if trimmed[0] != '{' {
		return Document{}, validationError(op, "", "JSON root must be an object", nil)
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		path, msg := describeDecodeError(err)
		return Document{}, validationError(op, path, msg, err)
	}
	if err := CheckStruct(op, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// CheckStruct validates any struct carrying validate tags and reports the
// first violation in path order.
func CheckStruct(op string, v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return validationError(op, "", err.Error(), err)
	}
	type violation struct {
		segments []string
		message  string
	}
	all := make([]violation, 0, len(verrs))
	for _, fe := range verrs {
		all = append(all, violation{segments: fieldPath(fe.Namespace()), message: describeField(fe)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return lessPath(all[i].segments, all[j].segments)
	})
	first := all[0]
	return validationError(op, strings.Join(first.segments, "."), first.message, err)
}

func validationError(op, path, msg string, err error) error {
	if path == "" {
		path = "payload"
	}
	return forge.E(forge.KindValidation, op, forge.Truncate(fmt.Sprintf("%s: %s", path, msg), maxValidationMessage), err)
}

// fieldPath turns "Document.article.sections[0].body" into
// ["article", "sections", "0", "body"].
func fieldPath(namespace string) []string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	} else {
		return nil
	}
	namespace = strings.NewReplacer("[", ".", "]", "").Replace(namespace)
	return strings.Split(namespace, ".")
}

// lessPath orders paths segment by segment, comparing indexes numerically.
func lessPath(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		ai, aErr := strconv.Atoi(a[i])
		bi, bErr := strconv.Atoi(b[i])
		if aErr == nil && bErr == nil {
			return ai < bi
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

func describeField(fe validator.FieldError) string {
	collection := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if collection {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		if collection {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "eq":
		return fmt.Sprintf("must equal %q", fe.Param())
	case "url":
		return "must be an absolute URL"
	case "slug":
		return "must match " + slugPattern.String()
	case "robots":
		return fmt.Sprintf("must equal %q", Robots)
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func describeDecodeError(err error) (string, string) {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field, fmt.Sprintf("expected %s, got %s", jsonKind(typeErr.Type), typeErr.Value)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "", fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset)
	}
	return "", err.Error()
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Float64:
		return "number"
	default:
		return t.Kind().String()
	}
}
