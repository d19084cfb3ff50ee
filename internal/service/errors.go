// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — запись не найдена, некорректный ID или срок жизни истёк.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — у пользователя уже есть живой активный запрос.
	ErrConflict = errors.New("конфликт — активный запрос уже существует")
	// ErrForbidden — владелец файла заблокирован.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrServiceUnavailable — в пуле нет доступных backend-клиентов.
	ErrServiceUnavailable = errors.New("нет доступных backend-клиентов")
)
