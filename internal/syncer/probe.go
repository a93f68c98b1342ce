package syncer

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/offlinegate/internal/netx"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// HTTPProber pings a health URL. Transport failures and 5xx answers count as
// unreachable; any other status proves the backend is there.
type HTTPProber struct {
	Client netx.Doer
	URL    string
}

func (p HTTPProber) Ping(ctx context.Context) error {
	err := netx.Send(ctx, p.Client, http.MethodGet, p.URL, nil, "")
	if err == nil {
		return nil
	}
	var se *netx.StatusError
	if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
		return nil
	}
	return err
}
