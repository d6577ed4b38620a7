package rws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Mesh-ch/abb-robot-client/errors"
)

// Typed helpers over Request for the common controller operations. All of
// them are thin wrappers: path, form payload, envelope decoding.

// ExecutionState is the RAPID execution state of the controller.
type ExecutionState struct {
	CtrlExecState string // "running", "stopped", ...
	Cycle         string // "forever", "asis", "once"
}

// TaskState describes one RAPID task.
type TaskState struct {
	Name       string
	Type       string
	TaskState  string
	ExecState  string
	Active     bool
	MotionTask bool
}

// EventLogEntry is one controller event log message.
type EventLogEntry struct {
	SeqNum  int64
	MsgType int64
	Code    int64
	TStamp  string
	Title   string
	Desc    string
	Args    []string
}

// JointTarget is a joint-space robot position.
type JointTarget struct {
	RobAx [6]float64 // degrees
	ExtAx [6]float64
}

// RobTarget is a cartesian robot position.
type RobTarget struct {
	Trans   [3]float64 // mm
	Rot     [4]float64 // quaternion
	RobConf [4]float64
	ExtAx   [6]float64
}

// IpcMessage is one message read from an IPC queue.
type IpcMessage struct {
	Data    string
	UserDef string
	MsgType string
	Cmd     string
}

// StartExecution starts RAPID execution with the given cycle mode
// ("asis", "once" or "forever").
func (c *Client) StartExecution(ctx context.Context, cycle string) error {
	if cycle == "" {
		cycle = "asis"
	}
	form := url.Values{
		"regain":       []string{"continue"},
		"execmode":     []string{"continue"},
		"cycle":        []string{cycle},
		"condition":    []string{"none"},
		"stopatbp":     []string{"disabled"},
		"alltaskbytsp": []string{"true"},
	}
	_, err := c.Request(ctx, http.MethodPost, "rw/rapid/execution?action=start", form)
	return errors.Wrap(err, "Client", "StartExecution", "execution start")
}

// StopExecution stops RAPID execution.
func (c *Client) StopExecution(ctx context.Context) error {
	form := url.Values{"stopmode": []string{"stop"}}
	_, err := c.Request(ctx, http.MethodPost, "rw/rapid/execution?action=stop", form)
	return errors.Wrap(err, "Client", "StopExecution", "execution stop")
}

// ResetPP resets the RAPID program pointer to main.
func (c *Client) ResetPP(ctx context.Context) error {
	_, err := c.Request(ctx, http.MethodPost, "rw/rapid/execution?action=resetpp", nil)
	return errors.Wrap(err, "Client", "ResetPP", "program pointer reset")
}

// GetExecutionState returns the RAPID execution state.
func (c *Client) GetExecutionState(ctx context.Context) (ExecutionState, error) {
	resp, err := c.Request(ctx, http.MethodGet, "rw/rapid/execution", nil)
	if err != nil {
		return ExecutionState{}, err
	}
	state, err := resp.FirstState()
	if err != nil {
		return ExecutionState{}, errors.WrapInvalid(err, "Client", "GetExecutionState", "envelope decoding")
	}
	return ExecutionState{
		CtrlExecState: state.String("ctrlexecstate"),
		Cycle:         state.String("cycle"),
	}, nil
}

// GetControllerState returns the controller state ("motoron", ...).
func (c *Client) GetControllerState(ctx context.Context) (string, error) {
	resp, err := c.Request(ctx, http.MethodGet, "rw/panel/ctrlstate", nil)
	if err != nil {
		return "", err
	}
	state, err := resp.FirstState()
	if err != nil {
		return "", errors.WrapInvalid(err, "Client", "GetControllerState", "envelope decoding")
	}
	return state.String("ctrlstate"), nil
}

// GetOperationMode returns the operation mode ("AUTO", "MANR", ...).
func (c *Client) GetOperationMode(ctx context.Context) (string, error) {
	resp, err := c.Request(ctx, http.MethodGet, "rw/panel/opmode", nil)
	if err != nil {
		return "", err
	}
	state, err := resp.FirstState()
	if err != nil {
		return "", errors.WrapInvalid(err, "Client", "GetOperationMode", "envelope decoding")
	}
	return state.String("opmode"), nil
}

// GetTasks returns the RAPID tasks keyed by name.
func (c *Client) GetTasks(ctx context.Context) (map[string]TaskState, error) {
	resp, err := c.Request(ctx, http.MethodGet, "rw/rapid/tasks", nil)
	if err != nil {
		return nil, err
	}
	states, err := resp.States()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "GetTasks", "envelope decoding")
	}

	tasks := make(map[string]TaskState, len(states))
	for _, s := range states {
		t := TaskState{
			Name:       s.String("name"),
			Type:       s.String("type"),
			TaskState:  s.String("taskstate"),
			ExecState:  s.String("excstate"),
			Active:     s.String("active") == "On",
			MotionTask: strings.EqualFold(s.String("motiontask"), "true"),
		}
		tasks[t.Name] = t
	}
	return tasks, nil
}

// ActivateTask activates a RAPID task.
func (c *Client) ActivateTask(ctx context.Context, task string) error {
	_, err := c.Request(ctx, http.MethodPost,
		fmt.Sprintf("rw/rapid/tasks/%s?action=activate", task), url.Values{})
	return errors.Wrap(err, "Client", "ActivateTask", "task activation")
}

// DeactivateTask deactivates a RAPID task.
func (c *Client) DeactivateTask(ctx context.Context, task string) error {
	_, err := c.Request(ctx, http.MethodPost,
		fmt.Sprintf("rw/rapid/tasks/%s?action=deactivate", task), url.Values{})
	return errors.Wrap(err, "Client", "DeactivateTask", "task deactivation")
}

func ioSignalPath(network, unit, signal string) string {
	if network == "" {
		network = "Local"
	}
	if unit == "" {
		unit = "DRV_1"
	}
	return fmt.Sprintf("rw/iosystem/signals/%s/%s/%s", network, unit, signal)
}

// GetDigitalIO reads a digital signal.
func (c *Client) GetDigitalIO(ctx context.Context, network, unit, signal string) (int, error) {
	resp, err := c.Request(ctx, http.MethodGet, ioSignalPath(network, unit, signal), nil)
	if err != nil {
		return 0, err
	}
	state, err := resp.FirstState()
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "GetDigitalIO", "envelope decoding")
	}
	v, err := state.Int("lvalue")
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "GetDigitalIO", "signal value parsing")
	}
	return int(v), nil
}

// SetDigitalIO writes a digital signal.
func (c *Client) SetDigitalIO(ctx context.Context, network, unit, signal string, value bool) error {
	lvalue := "0"
	if value {
		lvalue = "1"
	}
	form := url.Values{"lvalue": []string{lvalue}}
	_, err := c.Request(ctx, http.MethodPost, ioSignalPath(network, unit, signal)+"?action=set", form)
	return errors.Wrap(err, "Client", "SetDigitalIO", "signal write")
}

// GetAnalogIO reads an analog signal.
func (c *Client) GetAnalogIO(ctx context.Context, network, unit, signal string) (float64, error) {
	resp, err := c.Request(ctx, http.MethodGet, ioSignalPath(network, unit, signal), nil)
	if err != nil {
		return 0, err
	}
	state, err := resp.FirstState()
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "GetAnalogIO", "envelope decoding")
	}
	v, err := state.Float("lvalue")
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "GetAnalogIO", "signal value parsing")
	}
	return v, nil
}

// SetAnalogIO writes an analog signal.
func (c *Client) SetAnalogIO(ctx context.Context, network, unit, signal string, value float64) error {
	form := url.Values{
		"mode":   []string{"value"},
		"lvalue": []string{strconv.FormatFloat(value, 'g', -1, 64)},
	}
	_, err := c.Request(ctx, http.MethodPost, ioSignalPath(network, unit, signal)+"?action=set", form)
	return errors.Wrap(err, "Client", "SetAnalogIO", "signal write")
}

func rapidVarPath(task, name string) string {
	if task == "" {
		task = "T_ROB1"
	}
	return fmt.Sprintf("rw/rapid/symbol/data/RAPID/%s/%s", task, name)
}

// GetRapidVariable reads a RAPID variable as its literal value string.
func (c *Client) GetRapidVariable(ctx context.Context, task, name string) (string, error) {
	resp, err := c.Request(ctx, http.MethodGet, rapidVarPath(task, name), nil)
	if err != nil {
		return "", err
	}
	state, err := resp.FirstState()
	if err != nil {
		return "", errors.WrapInvalid(err, "Client", "GetRapidVariable", "envelope decoding")
	}
	return state.String("value"), nil
}

// SetRapidVariable writes a RAPID variable from its literal value string.
func (c *Client) SetRapidVariable(ctx context.Context, task, name, value string) error {
	form := url.Values{"value": []string{value}}
	_, err := c.Request(ctx, http.MethodPost, rapidVarPath(task, name)+"?action=set", form)
	return errors.Wrap(err, "Client", "SetRapidVariable", "variable write")
}

// GetRapidVariableNum reads a numeric RAPID variable.
func (c *Client) GetRapidVariableNum(ctx context.Context, task, name string) (float64, error) {
	v, err := c.GetRapidVariable(ctx, task, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "GetRapidVariableNum", "numeric parsing")
	}
	return f, nil
}

// SetRapidVariableNum writes a numeric RAPID variable.
func (c *Client) SetRapidVariableNum(ctx context.Context, task, name string, value float64) error {
	return c.SetRapidVariable(ctx, task, name, strconv.FormatFloat(value, 'g', -1, 64))
}

// ReadEventLog reads the controller event log for the given domain.
func (c *Client) ReadEventLog(ctx context.Context, domain int) ([]EventLogEntry, error) {
	resp, err := c.Request(ctx, http.MethodGet,
		fmt.Sprintf("rw/elog/%d/?lang=en", domain), nil)
	if err != nil {
		return nil, err
	}
	states, err := resp.States()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "ReadEventLog", "envelope decoding")
	}

	entries := make([]EventLogEntry, 0, len(states))
	for _, s := range states {
		entry := EventLogEntry{
			TStamp: s.String("tstamp"),
			Title:  s.String("title"),
			Desc:   s.String("desc"),
		}
		entry.MsgType, _ = s.Int("msgtype")
		entry.Code, _ = s.Int("code")

		// The sequence number only appears in the entry title path.
		title := s.String("_title")
		if i := strings.LastIndexByte(title, '/'); i >= 0 {
			entry.SeqNum, _ = strconv.ParseInt(title[i+1:], 10, 64)
		}
		if argv, ok := s["argv"].([]any); ok {
			for _, a := range argv {
				if arg, ok := a.(map[string]any); ok {
					entry.Args = append(entry.Args, State(arg).String("value"))
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetJointTarget reads the current joint position of a mechanical unit.
func (c *Client) GetJointTarget(ctx context.Context, mechUnit string) (JointTarget, error) {
	if mechUnit == "" {
		mechUnit = "ROB_1"
	}
	resp, err := c.Request(ctx, http.MethodGet,
		fmt.Sprintf("rw/motionsystem/mechunits/%s/jointtarget", mechUnit), nil)
	if err != nil {
		return JointTarget{}, err
	}
	state, err := resp.FirstState()
	if err != nil {
		return JointTarget{}, errors.WrapInvalid(err, "Client", "GetJointTarget", "envelope decoding")
	}

	var jt JointTarget
	robKeys := [6]string{"rax_1", "rax_2", "rax_3", "rax_4", "rax_5", "rax_6"}
	extKeys := [6]string{"eax_a", "eax_b", "eax_c", "eax_d", "eax_e", "eax_f"}
	for i := range robKeys {
		if jt.RobAx[i], err = state.Float(robKeys[i]); err != nil {
			return JointTarget{}, errors.WrapInvalid(err, "Client", "GetJointTarget", "axis parsing")
		}
		if jt.ExtAx[i], err = state.Float(extKeys[i]); err != nil {
			return JointTarget{}, errors.WrapInvalid(err, "Client", "GetJointTarget", "axis parsing")
		}
	}
	return jt, nil
}

// GetRobTarget reads the current cartesian position of a mechanical unit.
func (c *Client) GetRobTarget(ctx context.Context, mechUnit, tool, wobj, coordinate string) (RobTarget, error) {
	if mechUnit == "" {
		mechUnit = "ROB_1"
	}
	if tool == "" {
		tool = "tool0"
	}
	if wobj == "" {
		wobj = "wobj0"
	}
	if coordinate == "" {
		coordinate = "Base"
	}

	resp, err := c.Request(ctx, http.MethodGet, fmt.Sprintf(
		"rw/motionsystem/mechunits/%s/robtarget?tool=%s&wobj=%s&coordinate=%s",
		mechUnit, tool, wobj, coordinate), nil)
	if err != nil {
		return RobTarget{}, err
	}
	state, err := resp.FirstState()
	if err != nil {
		return RobTarget{}, errors.WrapInvalid(err, "Client", "GetRobTarget", "envelope decoding")
	}

	var rt RobTarget
	read := func(dst []float64, keys []string) error {
		for i, k := range keys {
			v, err := state.Float(k)
			if err != nil {
				return err
			}
			dst[i] = v
		}
		return nil
	}
	if err := read(rt.Trans[:], []string{"x", "y", "z"}); err != nil {
		return RobTarget{}, errors.WrapInvalid(err, "Client", "GetRobTarget", "position parsing")
	}
	if err := read(rt.Rot[:], []string{"q1", "q2", "q3", "q4"}); err != nil {
		return RobTarget{}, errors.WrapInvalid(err, "Client", "GetRobTarget", "rotation parsing")
	}
	if err := read(rt.RobConf[:], []string{"cf1", "cf4", "cf6", "cfx"}); err != nil {
		return RobTarget{}, errors.WrapInvalid(err, "Client", "GetRobTarget", "configuration parsing")
	}
	if err := read(rt.ExtAx[:], []string{"eaxa", "eaxb", "eaxc", "eaxd", "eaxe", "eaxf"}); err != nil {
		return RobTarget{}, errors.WrapInvalid(err, "Client", "GetRobTarget", "external axis parsing")
	}
	return rt, nil
}

// ReadFile reads a file from the controller's file service.
func (c *Client) ReadFile(ctx context.Context, filename string) ([]byte, error) {
	resp, err := c.RequestRaw(ctx, &Request{
		Method: http.MethodGet,
		Path:   "fileservice/" + filename,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// UploadFile writes a file to the controller's file service.
func (c *Client) UploadFile(ctx context.Context, filename string, contents []byte) error {
	_, err := c.RequestRaw(ctx, &Request{
		Method:      http.MethodPut,
		Path:        "fileservice/" + filename,
		Body:        contents,
		ContentType: "application/octet-stream",
	})
	return errors.Wrap(err, "Client", "UploadFile", "file upload")
}

// DeleteFile removes a file from the controller's file service.
func (c *Client) DeleteFile(ctx context.Context, filename string) error {
	_, err := c.RequestRaw(ctx, &Request{
		Method: http.MethodDelete,
		Path:   "fileservice/" + filename,
	})
	return errors.Wrap(err, "Client", "DeleteFile", "file deletion")
}

// GetRAMDiskPath returns the controller's RAM disk mount point.
func (c *Client) GetRAMDiskPath(ctx context.Context) (string, error) {
	resp, err := c.Request(ctx, http.MethodGet, "ctrl/$RAMDISK", nil)
	if err != nil {
		return "", err
	}
	state, err := resp.FirstState()
	if err != nil {
		return "", errors.WrapInvalid(err, "Client", "GetRAMDiskPath", "envelope decoding")
	}
	return state.String("_value"), nil
}

// ReadIPCMessages reads pending messages from an IPC queue. A timeout of
// zero returns immediately.
func (c *Client) ReadIPCMessages(ctx context.Context, queue string, timeoutSeconds int) ([]IpcMessage, error) {
	path := fmt.Sprintf("rw/dipc/%s/?action=dipc-read", queue)
	if timeoutSeconds > 0 {
		path += "&timeout=" + strconv.Itoa(timeoutSeconds)
	}
	resp, err := c.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	states, err := resp.States()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "ReadIPCMessages", "envelope decoding")
	}

	msgs := make([]IpcMessage, 0, len(states))
	for _, s := range states {
		msgs = append(msgs, IpcMessage{
			Data:    s.String("dipc-data"),
			UserDef: s.String("dipc-userdef"),
			MsgType: s.String("dipc-msgtype"),
			Cmd:     s.String("dipc-cmd"),
		})
	}
	return msgs, nil
}

// SendIPCMessage posts a message to an IPC queue.
func (c *Client) SendIPCMessage(ctx context.Context, targetQueue, data, sourceQueue string, cmd, userDef, msgType int) error {
	form := url.Values{
		"dipc-src-queue-name": []string{sourceQueue},
		"dipc-cmd":            []string{strconv.Itoa(cmd)},
		"dipc-userdef":        []string{strconv.Itoa(userDef)},
		"dipc-msgtype":        []string{strconv.Itoa(msgType)},
		"dipc-data":           []string{data},
	}
	_, err := c.Request(ctx, http.MethodPost,
		fmt.Sprintf("rw/dipc/%s?action=dipc-send", targetQueue), form)
	return errors.Wrap(err, "Client", "SendIPCMessage", "IPC send")
}

// Error code the controller returns when an IPC queue already exists.
const ipcQueueExistsCode = -1073445879

// TryCreateIPCQueue creates an IPC queue, reporting false without error
// when it already exists.
func (c *Client) TryCreateIPCQueue(ctx context.Context, queue string, queueSize, maxMsgSize int) (bool, error) {
	if queueSize <= 0 {
		queueSize = 4440
	}
	if maxMsgSize <= 0 {
		maxMsgSize = 444
	}
	form := url.Values{
		"dipc-queue-name":   []string{queue},
		"dipc-queue-size":   []string{strconv.Itoa(queueSize)},
		"dipc-max-msg-size": []string{strconv.Itoa(maxMsgSize)},
	}
	_, err := c.Request(ctx, http.MethodPost, "rw/dipc?action=dipc-create", form)
	if err != nil {
		var cerr *ControllerError
		if errors.As(err, &cerr) && cerr.Code == ipcQueueExistsCode {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
