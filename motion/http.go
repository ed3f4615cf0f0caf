package motion

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/hexapod/generichttp"
	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

// HTTPController wraps a Controller with HTTP
type HTTPController struct {
	*Controller

	// Timeout bounds the device I/O of each request
	Timeout time.Duration

	RouteTable generichttp.RouteTable
}

// NewHTTPController returns an HTTP wrapper with the route table
// pre-configured
func NewHTTPController(c *Controller) HTTPController {
	h := HTTPController{Controller: c, Timeout: 10 * time.Second}
	get := func(p string) generichttp.MethodPath { return generichttp.MethodPath{Method: http.MethodGet, Path: p} }
	post := func(p string) generichttp.MethodPath { return generichttp.MethodPath{Method: http.MethodPost, Path: p} }
	h.RouteTable = generichttp.RouteTable{
		get("/pos"):          h.getVector(c.RealPosition),
		post("/pos"):         h.setAxes(c.SetPosition),
		get("/position"):     h.getVector(c.Position),
		get("/target"):       h.getVector(c.TargetPosition),
		post("/offset"):      h.setAxes(c.Offset),
		get("/limits/low"):   h.getVector(c.LowLimit),
		post("/limits/low"):  h.setAxes(c.SetLowLimit),
		get("/limits/high"):  h.getVector(c.HighLimit),
		post("/limits/high"): h.setAxes(c.SetHighLimit),
		get("/limits/soft"):  h.GetSoftLimit,
		post("/limits/soft"): h.SetSoftLimit,
		get("/pivot"):        h.GetPivot,
		post("/pivot"):       h.SetPivot,
		get("/velocity"):     h.GetVelocity,
		post("/velocity"):    h.SetVelocity,
		post("/reference"):   h.action(c.Reference),
		post("/stop"):        h.action(c.StopAllAxes),
		get("/status"):       h.Status,
		get("/error"):        h.GetError,
		post("/raw"):         h.Raw,
	}
	return h
}

// RT returns the route table
func (h HTTPController) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPController) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.Timeout)
}

// withStatus tags a controller error with its status code
func withStatus(err error) error {
	if err == nil {
		return nil
	}
	switch errors.Cause(err) {
	case ErrInMotion, ErrNotInMotion, ErrLimitOrder, pi.ErrNoAxes:
		return generichttp.WithStatus(err, http.StatusConflict)
	}
	return err
}

// decodeAxes reads {"X": 1, "Z": 2} into Axes
func decodeAxes(r *http.Request) (pi.Axes, error) {
	raw := map[string]float64{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	args := pi.Axes{}
	for k, v := range raw {
		a, err := pi.ParseAxis(k)
		if err != nil {
			return nil, err
		}
		args[a] = v
	}
	return args, nil
}

func (h HTTPController) getVector(fcn func(context.Context) (pi.AxisVector, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := h.ctx(r)
		defer cancel()
		v, err := fcn(ctx)
		if err != nil {
			generichttp.Fail(w, withStatus(err))
			return
		}
		generichttp.RespondJSON(w, v)
	}
}

func (h HTTPController) setAxes(fcn func(context.Context, pi.Axes) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := decodeAxes(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := h.ctx(r)
		defer cancel()
		if err = fcn(ctx, args); err != nil {
			generichttp.Fail(w, withStatus(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPController) action(fcn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := h.ctx(r)
		defer cancel()
		generichttp.Do(func() error { return withStatus(fcn(ctx)) })(w, r)
	}
}

// GetPivot returns the pivot point as {"X":..,"Y":..,"Z":..}
func (h HTTPController) GetPivot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	p, err := h.PivotPoint(ctx)
	if err != nil {
		generichttp.Fail(w, withStatus(err))
		return
	}
	generichttp.RespondJSON(w, p)
}

// SetPivot sets the pivot point from {"X":..,"Y":..,"Z":..}
func (h HTTPController) SetPivot(w http.ResponseWriter, r *http.Request) {
	p := pi.PivotPoint{}
	err := json.NewDecoder(r.Body).Decode(&p)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	if err = h.SetPivotPoint(ctx, p); err != nil {
		generichttp.Fail(w, withStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetVelocity returns the system velocity as {"f64": v}
func (h HTTPController) GetVelocity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	generichttp.GetFloat(func() (float64, error) { return h.SystemVelocity(ctx) })(w, r)
}

// SetVelocity sets the system velocity from {"f64": v}
func (h HTTPController) SetVelocity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	generichttp.SetFloat(func(v float64) error { return h.SetSystemVelocity(ctx, v) })(w, r)
}

// Status returns the cached state without I/O
func (h HTTPController) Status(w http.ResponseWriter, r *http.Request) {
	s := h.Snapshot()
	generichttp.RespondJSON(w, struct {
		Snapshot
		State string `json:"state"`
	}{s, s.State.String()})
}

// GetSoftLimit returns which axes enforce their soft limits as
// {"X": true, ...}
func (h HTTPController) GetSoftLimit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	active, err := h.SoftLimitActive(ctx)
	if err != nil {
		generichttp.Fail(w, withStatus(err))
		return
	}
	out := make(map[string]bool, pi.NumAxes)
	for i, a := range pi.AllAxes {
		out[a.String()] = active[i]
	}
	generichttp.RespondJSON(w, out)
}

// SetSoftLimit enables or disables soft limits from {"X": true, ...}
func (h HTTPController) SetSoftLimit(w http.ResponseWriter, r *http.Request) {
	raw := map[string]bool{}
	err := json.NewDecoder(r.Body).Decode(&raw)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flags := make(map[pi.Axis]bool, len(raw))
	for k, v := range raw {
		a, err := pi.ParseAxis(k)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flags[a] = v
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	generichttp.Do(func() error { return withStatus(h.ActivateSoftLimit(ctx, flags)) })(w, r)
}

// GetError pops the error register and returns {"int": code}
func (h HTTPController) GetError(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	generichttp.GetInt(func() (int, error) {
		code, err := h.Controller.GetError(ctx)
		return int(code), withStatus(err)
	})(w, r)
}

// Raw sends {"str": cmd} to the device and reads the number of lines given
// by the lines query parameter, default 0.  The reply lines are joined by
// newlines in {"str": reply}.
func (h HTTPController) Raw(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if q := r.URL.Query().Get("lines"); q != "" {
		var err error
		lines, err = strconv.Atoi(q)
		if err != nil || lines < 0 {
			http.Error(w, "lines must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}
	s := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	generichttp.GetString(func() (string, error) {
		reply, err := h.Hexapod().Raw(ctx, s.Str, lines)
		return strings.Join(reply, "\n"), withStatus(err)
	})(w, r)
}
