package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

type instrumentResty struct {
	tel       API
	idcounter *uint64
}

// InstrumentResty reports every request made by `client` to `tel`.
func InstrumentResty(client *resty.Client, tel API) {
	var idcounter uint64
	i := instrumentResty{tel: tel, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id        uint64
	startTime time.Time
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()

	id := atomic.AddUint64(i.idcounter, 1)
	ctx = context.WithValue(ctx, reqCtxKey, reqCtx{
		id:        id,
		startTime: time.Now(),
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, req.URL)

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	reqCtx, ok := res.Request.Context().Value(reqCtxKey).(reqCtx)
	if !ok {
		return nil
	}
	i.tel.ReportDebug(
		report_resty_response,
		reqCtx.id,
		time.Since(reqCtx.startTime).String(),
		res.Status(),
	)
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	var duration time.Duration
	reqCtx, ok := req.Context().Value(reqCtxKey).(reqCtx)
	if ok {
		duration = time.Since(reqCtx.startTime)
	}
	i.tel.ReportWarning(
		report_resty_response,
		err,
		req.Method,
		req.URL,
		duration,
	)
}
