/*
Copyright 2022 The Koordinator Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package validator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	transen "github.com/go-playground/validator/v10/translations/en"
)

var validatorInstance = &DefaultValidator{}

type DefaultValidator struct {
	once      sync.Once
	validator *validator.Validate
	trans     *ut.Translator
}

// StructWithTrans validates obj and returns the translated field errors.
// err is only set for failures that are not field validation errors, e.g. a nil object.
func (v *DefaultValidator) StructWithTrans(obj interface{}) (validator.ValidationErrorsTranslations, error) {
	err := v.validator.Struct(obj)
	switch err.(type) {
	case nil:
		return nil, nil
	case validator.ValidationErrors:
		if v.trans != nil {
			return err.(validator.ValidationErrors).Translate(*v.trans), nil
		}
	default:
	}
	return nil, err
}

// Validate validates obj and folds every field error into a single error with a stable message.
func (v *DefaultValidator) Validate(obj interface{}) error {
	info, err := v.StructWithTrans(obj)
	if err != nil {
		return err
	}
	if len(info) == 0 {
		return nil
	}
	fields := make([]string, 0, len(info))
	for field := range info {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	msgs := make([]string, 0, len(fields))
	for _, field := range fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, info[field]))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

func GetValidatorInstance() *DefaultValidator {
	validatorInstance.once.Do(func() {
		validatorInstance.validator, validatorInstance.trans = createValidator()
	})
	return validatorInstance
}

func createValidator() (*validator.Validate, *ut.Translator) {
	instance := validator.New()
	return instance, registerEnTranslator(instance)
}

func registerEnTranslator(instance *validator.Validate) *ut.Translator {
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	err := transen.RegisterDefaultTranslations(instance, trans)
	if err != nil {
		return nil
	}
	return &trans
}
