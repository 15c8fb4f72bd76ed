// File: internal/chrome/driver_test.go
// Unit tests for the pure parts of the driver. Nothing here launches a
// browser.
package chrome

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jsodeh/sabi/api/schemas"
)

func testDriver(t *testing.T) *Driver {
	t.Helper()
	return &Driver{logger: zaptest.NewLogger(t)}
}

func TestClassifyError(t *testing.T) {
	d := testDriver(t)
	action := schemas.BrowserAction{Selector: schemas.Selector{Type: "css", Value: "#publish"}}

	tests := []struct {
		name string
		err  error
		typ  schemas.BrowserErrorType
	}{
		{"deadline", context.DeadlineExceeded, schemas.BrowserErrTimeout},
		{"timeout text", errors.New("timeout waiting for frame"), schemas.BrowserErrTimeout},
		{"missing node", errors.New("could not find node for selector"), schemas.BrowserErrElementNotFound},
		{"selector wait", errors.New("waiting for selector #publish"), schemas.BrowserErrElementNotFound},
		{"disconnected", errors.New("page load error net::ERR_INTERNET_DISCONNECTED"), schemas.BrowserErrNetwork},
		{"dns", errors.New("net::ERR_NAME_NOT_RESOLVED"), schemas.BrowserErrNetwork},
		{"navigation", errors.New("navigation canceled by the browser"), schemas.BrowserErrNavigation},
		{"fallback", errors.New("Uncaught ReferenceError: x is not defined"), schemas.BrowserErrJavaScript},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := d.classifyError(tc.err, action)
			var berr *schemas.BrowserError
			require.ErrorAs(t, err, &berr)
			assert.Equal(t, tc.typ, berr.Type)
			assert.True(t, berr.Recoverable)
			require.NotNil(t, berr.Selector)
			assert.Equal(t, "#publish", berr.Selector.Value)
		})
	}

	assert.NoError(t, d.classifyError(nil, action))
}

func TestPermissionTypesCoverKnownNames(t *testing.T) {
	for _, name := range []string{"clipboard", "camera", "microphone", "notifications", "geolocation"} {
		_, ok := permissionTypes[name]
		assert.True(t, ok, "missing permission mapping for %s", name)
	}
}

func TestExecuteOfflineRejectsUnsupportedActions(t *testing.T) {
	d := testDriver(t)

	_, err := d.ExecuteOffline(context.Background(), schemas.BrowserAction{ID: "needs-net"})

	var berr *schemas.BrowserError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, schemas.BrowserErrNetwork, berr.Type)
}

func TestExecuteSimplifiedRejectsNonCSSSelectors(t *testing.T) {
	d := testDriver(t)

	_, err := d.ExecuteSimplified(context.Background(), schemas.BrowserAction{
		Kind:     schemas.ActionClick,
		Selector: schemas.Selector{Type: "xpath", Value: "//button"},
	})

	var berr *schemas.BrowserError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, schemas.BrowserErrJavaScript, berr.Type)
}
