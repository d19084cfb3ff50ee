// Пакет openapi — контракт HTTP API Stream Gateway: встроенная
// спецификация OpenAPI, типы запросов и ответов, маршрутизация chi.
package openapi

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var rawSpec []byte

var (
	specOnce   sync.Once
	loadedSpec *openapi3.T
	specErr    error
)

// GetSwagger возвращает разобранную и провалидированную спецификацию.
// Разбор выполняется один раз.
func GetSwagger() (*openapi3.T, error) {
	specOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(rawSpec)
		if err != nil {
			specErr = fmt.Errorf("разбор openapi.yaml: %w", err)
			return
		}
		if err := doc.Validate(loader.Context); err != nil {
			specErr = fmt.Errorf("валидация openapi.yaml: %w", err)
			return
		}
		loadedSpec = doc
	})
	return loadedSpec, specErr
}

// RawSpec возвращает исходный текст спецификации.
func RawSpec() []byte {
	return rawSpec
}
