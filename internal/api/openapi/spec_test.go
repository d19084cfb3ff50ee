package openapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// TestGetSwagger проверяет разбор и валидацию встроенного контракта.
func TestGetSwagger(t *testing.T) {
	doc, err := GetSwagger()
	if err != nil {
		t.Fatalf("GetSwagger: %v", err)
	}

	for _, path := range []string{"/dl/{id}", "/watch/{id}", "/api/v1/files", "/api/v1/requests/{user_id}"} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("путь %s отсутствует в контракте", path)
		}
	}

	again, _ := GetSwagger()
	if again != doc {
		t.Error("повторный GetSwagger разобрал контракт заново")
	}
}

// recordingServer запоминает разобранные параметры.
type recordingServer struct {
	ServerInterface

	fileID     FileId
	userID     UserId
	download   DownloadFileParams
	listParams ListUserFilesParams
	release    ReleaseRequestParams
}

func (s *recordingServer) DownloadFile(w http.ResponseWriter, _ *http.Request, id FileId, params DownloadFileParams) {
	s.fileID, s.download = id, params
	w.WriteHeader(http.StatusOK)
}

func (s *recordingServer) ListUserFiles(w http.ResponseWriter, _ *http.Request, userID UserId, params ListUserFilesParams) {
	s.userID, s.listParams = userID, params
	w.WriteHeader(http.StatusOK)
}

func (s *recordingServer) ReleaseRequest(w http.ResponseWriter, _ *http.Request, userID UserId, params ReleaseRequestParams) {
	s.userID, s.release = userID, params
	w.WriteHeader(http.StatusNoContent)
}

func TestHandler_BindsParameters(t *testing.T) {
	srv := &recordingServer{}
	router := HandlerFromMux(srv, chi.NewRouter())

	req := httptest.NewRequest(http.MethodGet, "/dl/abc-123", nil)
	req.Header.Set("Range", "bytes=0-99,200-299")
	router.ServeHTTP(httptest.NewRecorder(), req)
	if srv.fileID != "abc-123" || srv.download.Range == nil || *srv.download.Range != "bytes=0-99,200-299" {
		t.Errorf("DownloadFile: id=%q range=%v", srv.fileID, srv.download.Range)
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dl/abc-123", nil))
	if srv.download.Range != nil {
		t.Error("Range без заголовка должен быть nil")
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/users/42/files?limit=5&offset=10", nil))
	if srv.userID != 42 || srv.listParams.Limit == nil || *srv.listParams.Limit != 5 || *srv.listParams.Offset != 10 {
		t.Errorf("ListUserFiles: user=%d params=%+v", srv.userID, srv.listParams)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/requests/7?revoke=true", nil))
	if rec.Code != http.StatusNoContent || srv.release.Revoke == nil || !*srv.release.Revoke {
		t.Errorf("ReleaseRequest: code=%d params=%+v", rec.Code, srv.release)
	}
}

func TestHandler_InvalidUserID(t *testing.T) {
	var got error
	router := HandlerWithOptions(&recordingServer{}, ChiServerOptions{
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusBadRequest)
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/abc/files", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидался 400", rec.Code)
	}
	if got == nil || !strings.Contains(got.Error(), "user_id") {
		t.Errorf("ошибка = %v, ожидалось упоминание user_id", got)
	}
}
