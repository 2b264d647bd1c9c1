package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// errorResponse controla exactamente qué campos se envían al cliente.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta JSON para err. Los 5xx se loguean con la causa
// usando el logger del request (si hay).
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, nil, err)
}

// WriteErrorR es WriteError con acceso al request, para loguear con su logger scoped.
func WriteErrorR(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)

	if appErr.HTTPStatus >= 500 {
		log := logger.L()
		if r != nil {
			log = logger.From(r.Context())
		}
		log.Error("request failed", zap.String("code", appErr.Code), logger.Err(appErr.Err))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}
