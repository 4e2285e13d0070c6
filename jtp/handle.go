package jtp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
)

// RequestLimit bounds the size of a JSON request body.
const RequestLimit = 64 * 1024

var log = logrus.StandardLogger()

// SetLogger replaces the logger used for handler errors.
func SetLogger(l *logrus.Logger) {
	log = l
}

type JSFunc[IN any, OUT any] func(http.ResponseWriter, *http.Request, *IN) (*OUT, error)

func LogError(w http.ResponseWriter, r *http.Request, status int, err error) {
	entry := log.WithFields(logrus.Fields{"status": status, "path": r.URL.Path})
	if err != nil {
		entry = entry.WithError(err)
	}

	if status >= 500 {
		entry.Error("request failed")
	} else if status >= 400 {
		entry.Info("request rejected")
	}

	http.Error(w, http.StatusText(status), status)
}

// Handle returns a http.HandlerFunc that unmarshals the request body into IN and
// marshals the returned OUT.
//
// If IN is None, nothing is read from the request body. If the handler returns a
// nil OUT, nothing is written. A returned HTTPError selects the status code; any
// other error is a 500.
func Handle[IN any, OUT any](handler JSFunc[IN, OUT]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in IN
		if _, ok := any(in).(None); !ok {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, RequestLimit)).Decode(&in); err != nil {
				LogError(w, r, http.StatusBadRequest, err)
				return
			}
		}

		out, err := handler(w, r, &in)

		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				LogError(w, r, httpErr.StatusCode, httpErr.Err)
			} else {
				LogError(w, r, http.StatusInternalServerError, err)
			}
			return
		}

		if out != nil {
			w.Header().Set("Content-Type", "application/json")
			if err = json.NewEncoder(w).Encode(out); err != nil {
				// Too late to change the status.
				log.WithError(err).Warn("unable to write response")
			}
		}
	}
}
