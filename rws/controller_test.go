package rws

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routeTransport scripts responses per "METHOD path".
func routeTransport(routes map[string]*Response) *fakeTransport {
	return newFakeTransport(func(req *Request) (*Response, error) {
		if resp, ok := routes[req.Method+" "+req.Path]; ok {
			return resp, nil
		}
		return statusResponse(http.StatusNotFound), nil
	})
}

func TestGetExecutionState(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/rapid/execution": okResponse(
			`{"_embedded":{"_state":[{"ctrlexecstate":"running","cycle":"forever"}]}}`),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})

	state, err := client.GetExecutionState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", state.CtrlExecState)
	assert.Equal(t, "forever", state.Cycle)
}

func TestStartStopResetExecution(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"POST rw/rapid/execution": statusResponse(http.StatusNoContent),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})
	ctx := context.Background()

	require.NoError(t, client.StartExecution(ctx, ""))
	call := transport.lastCall()
	assert.Equal(t, "start", call.Query.Get("action"))
	assert.Equal(t, "asis", call.Form.Get("cycle"))
	assert.Equal(t, "continue", call.Form.Get("regain"))

	require.NoError(t, client.StopExecution(ctx))
	call = transport.lastCall()
	assert.Equal(t, "stop", call.Query.Get("action"))
	assert.Equal(t, "stop", call.Form.Get("stopmode"))

	require.NoError(t, client.ResetPP(ctx))
	assert.Equal(t, "resetpp", transport.lastCall().Query.Get("action"))
}

func TestDigitalIO(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/iosystem/signals/Local/DRV_1/DO1": okResponse(
			`{"_embedded":{"_state":[{"lvalue":"1"}]}}`),
		"POST rw/iosystem/signals/Local/DRV_1/DO1": statusResponse(http.StatusNoContent),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})
	ctx := context.Background()

	v, err := client.GetDigitalIO(ctx, "", "", "DO1")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, client.SetDigitalIO(ctx, "", "", "DO1", true))
	call := transport.lastCall()
	assert.Equal(t, "set", call.Query.Get("action"))
	assert.Equal(t, "1", call.Form.Get("lvalue"))

	require.NoError(t, client.SetDigitalIO(ctx, "", "", "DO1", false))
	assert.Equal(t, "0", transport.lastCall().Form.Get("lvalue"))
}

func TestAnalogIO(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/iosystem/signals/Local/DRV_1/AO1": okResponse(
			`{"_embedded":{"_state":[{"lvalue":"3.5"}]}}`),
		"POST rw/iosystem/signals/Local/DRV_1/AO1": statusResponse(http.StatusNoContent),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})
	ctx := context.Background()

	v, err := client.GetAnalogIO(ctx, "", "", "AO1")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	require.NoError(t, client.SetAnalogIO(ctx, "", "", "AO1", 2.25))
	call := transport.lastCall()
	assert.Equal(t, "value", call.Form.Get("mode"))
	assert.Equal(t, "2.25", call.Form.Get("lvalue"))
}

func TestRapidVariables(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/rapid/symbol/data/RAPID/T_ROB1/counter": okResponse(
			`{"_embedded":{"_state":[{"value":"42"}]}}`),
		"POST rw/rapid/symbol/data/RAPID/T_ROB1/counter": statusResponse(http.StatusNoContent),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})
	ctx := context.Background()

	v, err := client.GetRapidVariable(ctx, "", "counter")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	n, err := client.GetRapidVariableNum(ctx, "", "counter")
	require.NoError(t, err)
	assert.Equal(t, 42.0, n)

	require.NoError(t, client.SetRapidVariableNum(ctx, "", "counter", 7))
	assert.Equal(t, "7", transport.lastCall().Form.Get("value"))
}

func TestGetTasks(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/rapid/tasks": okResponse(`{"_embedded":{"_state":[
			{"name":"T_ROB1","type":"normal","taskstate":"linked","excstate":"ready","active":"On","motiontask":"TRUE"},
			{"name":"T_BACK","type":"normal","taskstate":"linked","excstate":"ready","active":"Off","motiontask":"FALSE"}
		]}}`),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})

	tasks, err := client.GetTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.True(t, tasks["T_ROB1"].Active)
	assert.True(t, tasks["T_ROB1"].MotionTask)
	assert.False(t, tasks["T_BACK"].Active)
	assert.False(t, tasks["T_BACK"].MotionTask)
}

func TestGetJointTarget(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/motionsystem/mechunits/ROB_1/jointtarget": okResponse(
			`{"_embedded":{"_state":[{"_type":"ms-jointtarget",
			"rax_1":"10","rax_2":"-20","rax_3":"30","rax_4":"0","rax_5":"90","rax_6":"0.5",
			"eax_a":"100","eax_b":"0","eax_c":"0","eax_d":"0","eax_e":"0","eax_f":"0"}]}}`),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})

	jt, err := client.GetJointTarget(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, [6]float64{10, -20, 30, 0, 90, 0.5}, jt.RobAx)
	assert.Equal(t, [6]float64{100, 0, 0, 0, 0, 0}, jt.ExtAx)
}

func TestGetRobTarget(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/motionsystem/mechunits/ROB_1/robtarget": okResponse(
			`{"_embedded":{"_state":[{"_type":"ms-robtargets",
			"x":"600","y":"-150","z":"800","q1":"0.7071","q2":"0","q3":"0.7071","q4":"0",
			"cf1":"0","cf4":"0","cf6":"0","cfx":"0",
			"eaxa":"0","eaxb":"0","eaxc":"0","eaxd":"0","eaxe":"0","eaxf":"0"}]}}`),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})

	rt, err := client.GetRobTarget(context.Background(), "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{600, -150, 800}, rt.Trans)
	assert.Equal(t, [4]float64{0.7071, 0, 0.7071, 0}, rt.Rot)
}

func TestReadEventLog(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/elog/0/": okResponse(`{"_embedded":{"_state":[
			{"_title":"/rw/elog/0/7","msgtype":"1","code":"10015","tstamp":"2023-01-01 T 12:00:00",
			 "title":"Motors ON","desc":"Motors turned on","argc":"0"}
		]}}`),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})

	entries, err := client.ReadEventLog(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].SeqNum)
	assert.Equal(t, int64(10015), entries[0].Code)
	assert.Equal(t, "Motors ON", entries[0].Title)
}

func TestFileService(t *testing.T) {
	transport := newFakeTransport(func(req *Request) (*Response, error) {
		switch req.Method {
		case http.MethodGet:
			return &Response{StatusCode: http.StatusOK, Body: []byte("MODULE main")}, nil
		case http.MethodPut, http.MethodDelete:
			return statusResponse(http.StatusCreated), nil
		}
		return statusResponse(http.StatusNotFound), nil
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})
	ctx := context.Background()

	data, err := client.ReadFile(ctx, "$home/main.mod")
	require.NoError(t, err)
	assert.Equal(t, []byte("MODULE main"), data)
	// File service bypasses the json=1 decoration
	assert.Empty(t, transport.lastCall().Query.Get("json"))

	require.NoError(t, client.UploadFile(ctx, "$home/main.mod", []byte("MODULE main")))
	call := transport.lastCall()
	assert.Equal(t, http.MethodPut, call.Method)
	assert.Equal(t, []byte("MODULE main"), call.Body)

	require.NoError(t, client.DeleteFile(ctx, "$home/main.mod"))
	assert.Equal(t, http.MethodDelete, transport.lastCall().Method)
}

func TestIPCQueues(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"GET rw/dipc/my_queue/": okResponse(`{"_embedded":{"_state":[
			{"_type":"dipc-read-li","dipc-data":"hello","dipc-userdef":"1","dipc-msgtype":"1","dipc-cmd":"111"}
		]}}`),
		"POST rw/dipc/other_queue": statusResponse(http.StatusNoContent),
		"POST rw/dipc":             statusResponse(http.StatusCreated),
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})
	ctx := context.Background()

	msgs, err := client.ReadIPCMessages(ctx, "my_queue", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Data)

	require.NoError(t, client.SendIPCMessage(ctx, "other_queue", "ping", "my_queue", 111, 1, 1))
	call := transport.lastCall()
	assert.Equal(t, "dipc-send", call.Query.Get("action"))
	assert.Equal(t, "ping", call.Form.Get("dipc-data"))

	created, err := client.TryCreateIPCQueue(ctx, "my_queue", 0, 0)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTryCreateIPCQueue_AlreadyExists(t *testing.T) {
	transport := routeTransport(map[string]*Response{
		"POST rw/dipc": {
			StatusCode: http.StatusBadRequest,
			Body:       []byte(`{"_embedded":{"status":{"code":-1073445879,"msg":"queue exists"}}}`),
		},
	})
	client := loginTestClient(t, transport, &fakeAuthenticator{}, &fakeDialer{})

	created, err := client.TryCreateIPCQueue(context.Background(), "my_queue", 0, 0)
	require.NoError(t, err)
	assert.False(t, created)
}
