package device

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// fakeDevice serves the AxeOS endpoints the controller uses.
type fakeDevice struct {
	mu       sync.Mutex
	info     gin.H
	calls    []string
	patches  []map[string]interface{}
	failFrom map[string]int
	server   *httptest.Server
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d := &fakeDevice{
		info: gin.H{
			"temp":              52.5,
			"power":             11.2,
			"coreVoltageActual": 1180,
			"coreVoltage":       1200,
			"frequency":         485,
			"hashRate":          512.3,
			"bestDiff":          "1.2M",
		},
		failFrom: make(map[string]int),
	}

	r := gin.New()
	r.GET("/api/system/info", func(c *gin.Context) {
		if code := d.track("GET info"); code != 0 {
			c.Status(code)
			return
		}
		d.mu.Lock()
		info := d.info
		d.mu.Unlock()
		c.JSON(http.StatusOK, info)
	})
	r.PATCH("/api/system", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(body, &payload)
		d.mu.Lock()
		d.patches = append(d.patches, payload)
		d.mu.Unlock()
		if code := d.track("PATCH system"); code != 0 {
			c.Status(code)
			return
		}
		c.Status(http.StatusOK)
	})
	r.POST("/api/system/restart", func(c *gin.Context) {
		if code := d.track("POST restart"); code != 0 {
			c.Status(code)
			return
		}
		c.String(http.StatusOK, "System will restart shortly.")
	})

	d.server = httptest.NewServer(r)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDevice) track(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.failFrom[call]
}

func (d *fakeDevice) failWith(call string, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFrom[call] = code
}

func (d *fakeDevice) setInfo(info gin.H) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = info
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) Patches() []map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]interface{}(nil), d.patches...)
}

func (d *fakeDevice) Host() string {
	return strings.TrimPrefix(d.server.URL, "http://")
}
