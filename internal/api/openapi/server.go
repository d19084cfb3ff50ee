package openapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface — обработчики всех операций контракта.
type ServerInterface interface {
	// GET /
	GetRoot(w http.ResponseWriter, r *http.Request)
	// GET /status
	GetStatus(w http.ResponseWriter, r *http.Request)
	// GET /health
	GetHealth(w http.ResponseWriter, r *http.Request)
	// GET /health/live
	HealthLive(w http.ResponseWriter, r *http.Request)
	// GET /health/ready
	HealthReady(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// GET /watch/{id}
	WatchFile(w http.ResponseWriter, r *http.Request, id FileId)
	// GET /dl/{id}
	DownloadFile(w http.ResponseWriter, r *http.Request, id FileId, params DownloadFileParams)

	// POST /api/v1/files
	RegisterFile(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/files/{id}
	GetFile(w http.ResponseWriter, r *http.Request, id FileId)
	// DELETE /api/v1/files/{id}
	DeleteFile(w http.ResponseWriter, r *http.Request, id FileId)

	// GET /api/v1/users/{user_id}
	GetUser(w http.ResponseWriter, r *http.Request, userID UserId)
	// GET /api/v1/users/{user_id}/files
	ListUserFiles(w http.ResponseWriter, r *http.Request, userID UserId, params ListUserFilesParams)
	// PUT /api/v1/users/{user_id}/ban
	BanUser(w http.ResponseWriter, r *http.Request, userID UserId)
	// DELETE /api/v1/users/{user_id}/ban
	UnbanUser(w http.ResponseWriter, r *http.Request, userID UserId)

	// PUT /api/v1/requests/{user_id}
	AcquireRequest(w http.ResponseWriter, r *http.Request, userID UserId)
	// GET /api/v1/requests/{user_id}
	GetRequest(w http.ResponseWriter, r *http.Request, userID UserId)
	// PATCH /api/v1/requests/{user_id}
	UpdateRequestStatus(w http.ResponseWriter, r *http.Request, userID UserId)
	// DELETE /api/v1/requests/{user_id}
	ReleaseRequest(w http.ResponseWriter, r *http.Request, userID UserId, params ReleaseRequestParams)

	// POST /api/v1/maintenance/sweep
	RunSweep(w http.ResponseWriter, r *http.Request)
}

// MiddlewareFunc — middleware отдельной операции.
type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper разбирает параметры запроса и вызывает обработчик.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// serve применяет middleware операции и выполняет handler.
func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, handler http.Handler) {
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// --- Параметры ---

func (siw *ServerInterfaceWrapper) fileID(w http.ResponseWriter, r *http.Request) (FileId, bool) {
	var id FileId
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return "", false
	}
	return id, true
}

func (siw *ServerInterfaceWrapper) userID(w http.ResponseWriter, r *http.Request) (UserId, bool) {
	var userID UserId
	err := runtime.BindStyledParameterWithOptions("simple", "user_id", chi.URLParam(r, "user_id"), &userID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "user_id", Err: err})
		return 0, false
	}
	return userID, true
}

// --- Операции ---

// GetRoot — обёртка GET /.
func (siw *ServerInterfaceWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetRoot))
}

// GetStatus — обёртка GET /status.
func (siw *ServerInterfaceWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetStatus))
}

// GetHealth — обёртка GET /health.
func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetHealth))
}

// HealthLive — обёртка GET /health/live.
func (siw *ServerInterfaceWrapper) HealthLive(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.HealthLive))
}

// HealthReady — обёртка GET /health/ready.
func (siw *ServerInterfaceWrapper) HealthReady(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.HealthReady))
}

// GetMetrics — обёртка GET /metrics.
func (siw *ServerInterfaceWrapper) GetMetrics(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetMetrics))
}

// WatchFile — обёртка GET /watch/{id}.
func (siw *ServerInterfaceWrapper) WatchFile(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.fileID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.WatchFile(w, r, id)
	}))
}

// DownloadFile — обёртка GET /dl/{id}.
func (siw *ServerInterfaceWrapper) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.fileID(w, r)
	if !ok {
		return
	}

	var params DownloadFileParams
	if valueList, found := r.Header[http.CanonicalHeaderKey("Range")]; found {
		if n := len(valueList); n != 1 {
			siw.ErrorHandlerFunc(w, r, &TooManyValuesForParamError{ParamName: "Range", Count: n})
			return
		}
		var rangeHeader string
		err := runtime.BindStyledParameterWithOptions("simple", "Range", valueList[0], &rangeHeader,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationHeader, Explode: false, Required: false})
		if err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "Range", Err: err})
			return
		}
		params.Range = &rangeHeader
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DownloadFile(w, r, id, params)
	}))
}

// RegisterFile — обёртка POST /api/v1/files.
func (siw *ServerInterfaceWrapper) RegisterFile(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.RegisterFile))
}

// GetFile — обёртка GET /api/v1/files/{id}.
func (siw *ServerInterfaceWrapper) GetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.fileID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetFile(w, r, id)
	}))
}

// DeleteFile — обёртка DELETE /api/v1/files/{id}.
func (siw *ServerInterfaceWrapper) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.fileID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DeleteFile(w, r, id)
	}))
}

// GetUser — обёртка GET /api/v1/users/{user_id}.
func (siw *ServerInterfaceWrapper) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetUser(w, r, userID)
	}))
}

// ListUserFiles — обёртка GET /api/v1/users/{user_id}/files.
func (siw *ServerInterfaceWrapper) ListUserFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}

	var params ListUserFilesParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &params.Offset); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "offset", Err: err})
		return
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListUserFiles(w, r, userID, params)
	}))
}

// BanUser — обёртка PUT /api/v1/users/{user_id}/ban.
func (siw *ServerInterfaceWrapper) BanUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.BanUser(w, r, userID)
	}))
}

// UnbanUser — обёртка DELETE /api/v1/users/{user_id}/ban.
func (siw *ServerInterfaceWrapper) UnbanUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.UnbanUser(w, r, userID)
	}))
}

// AcquireRequest — обёртка PUT /api/v1/requests/{user_id}.
func (siw *ServerInterfaceWrapper) AcquireRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.AcquireRequest(w, r, userID)
	}))
}

// GetRequest — обёртка GET /api/v1/requests/{user_id}.
func (siw *ServerInterfaceWrapper) GetRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetRequest(w, r, userID)
	}))
}

// UpdateRequestStatus — обёртка PATCH /api/v1/requests/{user_id}.
func (siw *ServerInterfaceWrapper) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.UpdateRequestStatus(w, r, userID)
	}))
}

// ReleaseRequest — обёртка DELETE /api/v1/requests/{user_id}.
func (siw *ServerInterfaceWrapper) ReleaseRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := siw.userID(w, r)
	if !ok {
		return
	}

	var params ReleaseRequestParams
	if err := runtime.BindQueryParameter("form", true, false, "revoke", r.URL.Query(), &params.Revoke); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "revoke", Err: err})
		return
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ReleaseRequest(w, r, userID, params)
	}))
}

// RunSweep — обёртка POST /api/v1/maintenance/sweep.
func (siw *ServerInterfaceWrapper) RunSweep(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.RunSweep))
}

// --- Ошибки разбора параметров ---

// InvalidParamFormatError — параметр не соответствует формату контракта.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// TooManyValuesForParamError — параметр передан несколько раз.
type TooManyValuesForParamError struct {
	ParamName string
	Count     int
}

func (e *TooManyValuesForParamError) Error() string {
	return fmt.Sprintf("параметр %s: ожидалось одно значение, получено %d", e.ParamName, e.Count)
}

// --- Маршрутизация ---

// ChiServerOptions — параметры регистрации маршрутов.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler создаёт chi-роутер со всеми маршрутами.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerFromMux регистрирует маршруты в существующем роутере.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions регистрирует маршруты с указанными параметрами.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}
	base := options.BaseURL

	r.Group(func(r chi.Router) {
		r.Get(base+"/", wrapper.GetRoot)
		r.Get(base+"/status", wrapper.GetStatus)
		r.Get(base+"/health", wrapper.GetHealth)
		r.Get(base+"/health/live", wrapper.HealthLive)
		r.Get(base+"/health/ready", wrapper.HealthReady)
		r.Get(base+"/metrics", wrapper.GetMetrics)
		r.Get(base+"/watch/{id}", wrapper.WatchFile)
		r.Get(base+"/dl/{id}", wrapper.DownloadFile)

		r.Post(base+"/api/v1/files", wrapper.RegisterFile)
		r.Get(base+"/api/v1/files/{id}", wrapper.GetFile)
		r.Delete(base+"/api/v1/files/{id}", wrapper.DeleteFile)

		r.Get(base+"/api/v1/users/{user_id}", wrapper.GetUser)
		r.Get(base+"/api/v1/users/{user_id}/files", wrapper.ListUserFiles)
		r.Put(base+"/api/v1/users/{user_id}/ban", wrapper.BanUser)
		r.Delete(base+"/api/v1/users/{user_id}/ban", wrapper.UnbanUser)

		r.Put(base+"/api/v1/requests/{user_id}", wrapper.AcquireRequest)
		r.Get(base+"/api/v1/requests/{user_id}", wrapper.GetRequest)
		r.Patch(base+"/api/v1/requests/{user_id}", wrapper.UpdateRequestStatus)
		r.Delete(base+"/api/v1/requests/{user_id}", wrapper.ReleaseRequest)

		r.Post(base+"/api/v1/maintenance/sweep", wrapper.RunSweep)
	})

	return r
}
