package distance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moddispatch/internal/geo"
	"moddispatch/internal/opt"
)

func line(n int) []geo.Location {
	out := make([]geo.Location, n)
	for i := range out {
		out[i] = geo.Location{Lng: float64(i) / 1000, Lat: 1}
	}
	return out
}

// fakeOSRM answers /table with distance = 1000*|lng_i - lng_j| + 0.4 meters and a tenth of
// that in seconds. Cells whose source longitude is negative come back null.
func fakeOSRM(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "distance,duration", r.URL.Query().Get("annotations"))
		parts := strings.Split(r.URL.Path, "/")
		var lngs []float64
		for _, c := range strings.Split(parts[len(parts)-1], ";") {
			lng, err := strconv.ParseFloat(strings.Split(c, ",")[0], 64)
			require.NoError(t, err)
			lngs = append(lngs, lng)
		}
		idx := func(name string) []int {
			var out []int
			for _, s := range strings.Split(r.URL.Query().Get(name), ";") {
				i, err := strconv.Atoi(s)
				require.NoError(t, err)
				out = append(out, i)
			}
			return out
		}
		src, dst := idx("sources"), idx("destinations")
		require.LessOrEqual(t, len(src), osrmMaxLocations)
		require.LessOrEqual(t, len(dst), osrmMaxLocations)
		resp := osrmTableResponse{Code: "Ok"}
		for _, i := range src {
			var drow, trow []*float64
			for _, j := range dst {
				if lngs[i] < 0 {
					drow, trow = append(drow, nil), append(trow, nil)
					continue
				}
				d := 1000*abs(lngs[i]-lngs[j])*1000 + 0.4
				s := d / 10
				drow, trow = append(drow, &d), append(trow, &s)
			}
			resp.Distances = append(resp.Distances, drow)
			resp.Durations = append(resp.Durations, trow)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestOSRMTable(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls)
	defer srv.Close()
	o := NewOSRM(srv.URL+"/", Options{Tasks: 2})

	locs := line(3)
	tbl, err := o.Table(context.Background(), locs, locs)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	// 1000*0.002*1000 + 0.4 = 2000.4 -> 2001, 200.04 -> 201
	require.Equal(t, Result{Meters: 2001, Seconds: 201}, tbl[0][2])
	require.Equal(t, Result{Meters: 1, Seconds: 1}, tbl[1][1])

	r, err := o.GetDistance(context.Background(), geo.Location{Lng: -0.001, Lat: 1}, locs[0])
	require.NoError(t, err)
	require.False(t, r.Reachable())
	require.Equal(t, opt.NoRoute, r.Meters)
}

func TestOSRMTableChunks(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls)
	defer srv.Close()
	o := NewOSRM(srv.URL, Options{Tasks: 3})

	src := line(250)
	dst := line(120)
	tbl, err := o.Table(context.Background(), src, dst)
	require.NoError(t, err)
	require.Equal(t, int32(3*2), calls.Load())
	require.Len(t, tbl, 250)
	require.Len(t, tbl[249], 120)
	// 249 vs 119 -> 130 * 1000 + 0.4
	require.Equal(t, 130001, tbl[249][119].Meters)
	require.Equal(t, 13001, tbl[249][119].Seconds)
}

func TestOSRMRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	good := fakeOSRM(t, &calls)
	defer good.Close()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		resp, err := http.Get(good.URL + r.URL.RequestURI())
		require.NoError(t, err)
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		var body osrmTableResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	o := NewOSRM(srv.URL, Options{})
	o.backoff = time.Millisecond
	_, err := o.Table(context.Background(), line(2), line(2))
	require.NoError(t, err)
	require.Equal(t, int32(2), attempts.Load())
}

func TestOSRMDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"code":"InvalidQuery"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	o := NewOSRM(srv.URL, Options{})
	o.backoff = time.Millisecond
	_, err := o.Table(context.Background(), line(2), line(2))
	require.Error(t, err)
	var he *httpStatusError
	require.True(t, errors.As(err, &he))
	require.Equal(t, http.StatusBadRequest, he.Code)
	require.Equal(t, int32(1), attempts.Load())
}

func TestOSRMHonorsCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewOSRM(srv.URL, Options{})
	o.backoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := o.Table(ctx, line(2), line(2))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOSRMRejectsBadCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoTable","message":"nope"}`))
	}))
	defer srv.Close()
	_, err := NewOSRM(srv.URL, Options{}).Table(context.Background(), line(2), line(2))
	require.ErrorContains(t, err, "NoTable")
}

func TestIndexList(t *testing.T) {
	require.Equal(t, "2;3;4", indexList(2, 5))
	require.Equal(t, "", indexList(1, 1))
}
