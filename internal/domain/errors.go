package domain

import "errors"

var (
	// ErrValidation некорректные или отсутствующие поля запроса
	ErrValidation = errors.New("validation error")

	// ErrPreconditionFailed нарушено предусловие жизненного цикла
	// (например, у подписки еще нет provider subscription id)
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrKeyReuseConflict идемпотентный ключ переиспользован с другим телом запроса
	ErrKeyReuseConflict = errors.New("idempotency key reused with a different request body")

	// ErrKeyInProgress запрос с этим идемпотентным ключом еще выполняется
	ErrKeyInProgress = errors.New("request with this idempotency key is still in progress")

	// ErrInvalidSignature подпись вебхука не прошла проверку
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedEvent событие вебхука не содержит обязательных полей
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrTenantUnresolved не удалось определить тенанта для события
	ErrTenantUnresolved = errors.New("tenant id missing and could not be inferred")

	// ErrInvalidOperation операция недопустима в текущем состоянии
	ErrInvalidOperation = errors.New("invalid operation")
)
