package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsUnmarshalMixed(t *testing.T) {
	t.Parallel()

	var p Params
	require.NoError(t, json.Unmarshal([]byte(`[120000, "nightly.sh", true, 1.5]`), &p))
	assert.Equal(t, Params{"120000", "nightly.sh", "true", "1.5"}, p)

	n, err := p.Int(0)
	require.NoError(t, err)
	assert.Equal(t, 120000, n)

	s, err := p.String(1)
	require.NoError(t, err)
	assert.Equal(t, "nightly.sh", s)
}

func TestParamsUnmarshalRejectsObjects(t *testing.T) {
	t.Parallel()

	var p Params
	err := json.Unmarshal([]byte(`[1, {"a": 1}]`), &p)
	require.Error(t, err)

	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Index)
}

func TestParamsErrors(t *testing.T) {
	t.Parallel()

	p := Params{"abc"}

	_, err := p.Int(0)
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.Index)

	_, err = p.String(3)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Index)
}

func TestParamsDuration(t *testing.T) {
	t.Parallel()

	p := Params{"250", "2s", "soon"}

	d, err := p.Duration(0, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = p.Duration(1, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	_, err = p.Duration(2, time.Millisecond)
	require.Error(t, err)
}

func TestProcedureCallResult(t *testing.T) {
	t.Parallel()

	cb := func(ActionResult) ScheduledAction { return Exit("done") }
	a := ProcedureCall(3*time.Second, cb, "@Ping")
	assert.Equal(t, KindProcedure, a.Kind)
	assert.Equal(t, 3*time.Second, a.Delay)
	assert.Equal(t, "@Ping", a.Procedure)
	assert.Empty(t, a.Params)

	r := NewActionResult(a, Response{Status: StatusSuccess}, nil)
	assert.True(t, r.Succeeded())
	assert.Equal(t, "@Ping", r.Procedure())

	r = NewActionResult(a, Response{Status: StatusConnectionLost, StatusString: "gone"}, nil)
	assert.False(t, r.Succeeded())
	assert.Equal(t, "connection_lost", r.Response().Status.String())
}
