package jtp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Name string `json:"name"`
}

type echoResponse struct {
	Greeting string `json:"greeting"`
}

func init() {
	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)
	SetLogger(quiet)
}

func TestCallAndHandle(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/echo", Handle(func(w http.ResponseWriter, r *http.Request, in *echoRequest) (*echoResponse, error) {
		if in.Name == "" {
			return nil, BadRequestError(errors.New("name required"))
		}
		return &echoResponse{Greeting: "hello " + in.Name}, nil
	}))
	mux.Handle("/missing", Handle(func(w http.ResponseWriter, r *http.Request, in *None) (*None, error) {
		return nil, NotFoundError(nil)
	}))
	mux.Handle("/broken", Handle(func(w http.ResponseWriter, r *http.Request, in *None) (*None, error) {
		return nil, errors.New("database on fire")
	}))

	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()

	var out echoResponse
	require.NoError(t, Call(ctx, http.MethodPost, srv.URL+"/echo", &echoRequest{Name: "ana"}, &out))
	require.Equal(t, "hello ana", out.Greeting)

	err := Call(ctx, http.MethodPost, srv.URL+"/echo", &echoRequest{}, &out)
	require.ErrorIs(t, err, ErrBadRequest)

	err = Call[None, None](ctx, http.MethodGet, srv.URL+"/missing", nil, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, errors.Is(err, ErrBadRequest))

	err = Call[None, None](ctx, http.MethodGet, srv.URL+"/broken", nil, nil)
	require.ErrorIs(t, err, ErrInternalServerError)
}

func TestHandleRejectsBadJSON(t *testing.T) {
	h := Handle(func(w http.ResponseWriter, r *http.Request, in *echoRequest) (*echoResponse, error) {
		return &echoResponse{}, nil
	})

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPErrorMessage(t *testing.T) {
	require.Equal(t, "http status 404", NotFoundError(nil).Error())
	require.Equal(t, "gone (http status 404)", NotFoundError(errors.New("gone")).Error())
}
