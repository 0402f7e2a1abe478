// Package validation configures the shared struct validator.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	wallTimeRe = regexp.MustCompile(`^(\d+:)?\d{1,2}:[0-5]\d:[0-5]\d$`)
	memSizeRe  = regexp.MustCompile(`^\d+(\.\d+)?([KkMmGgTt][Bb]?|[Bb])$`)
)

// New returns a validator with the scheduler-specific tags registered:
//
//	walltime  [D:]H:MM:SS, as accepted by PBS -l walltime
//	memsize   a number with a K/M/G/T unit, e.g. 4GB or 512mb
func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("walltime", func(fl validator.FieldLevel) bool {
		return wallTimeRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("memsize", func(fl validator.FieldLevel) bool {
		return memSizeRe.MatchString(fl.Field().String())
	})
	return v
}

// FieldErrors flattens validation errors into a field -> message map.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		if err != nil {
			out["_"] = err.Error()
		}
		return out
	}
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		out[fieldPath(fe.Namespace())] = msg
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
