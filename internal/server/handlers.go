package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxljob/executor-go/internal/dispatch"
	"github.com/xxljob/executor-go/internal/logging"
	"github.com/xxljob/executor-go/internal/tasklog"
	"github.com/xxljob/executor-go/internal/xxltypes"
)

// response is the envelope every endpoint replies with, always at HTTP 200
// per the XXL-JOB wire contract (spec §6) — failure is signaled in the body
// via code, never via the HTTP status line.
type response struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Content any    `json:"content,omitempty"`
}

func ok(content any) response  { return response{Code: 200, Msg: "success", Content: content} }
func fail(msg string) response { return response{Code: 500, Msg: msg} }

// Handlers implements the scheduler-facing endpoints by translating
// requests into calls on the dispatch engine and task log sink.
type Handlers struct {
	log    *logging.Logger
	engine *dispatch.Engine
	sink   tasklog.Sink
}

func NewHandlers(log *logging.Logger, engine *dispatch.Engine, sink tasklog.Sink) *Handlers {
	return &Handlers{log: log, engine: engine, sink: sink}
}

// Beat reports liveness; it only ever succeeds.
func (h *Handlers) Beat(c *gin.Context) {
	c.JSON(http.StatusOK, ok(nil))
}

type jobIDRequest struct {
	JobID int64 `json:"jobId"`
}

// IdleBeat reports whether jobId is currently running, so the scheduler can
// decide whether this executor is eligible for a new dispatch.
func (h *Handlers) IdleBeat(c *gin.Context) {
	var req jobIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, fail("invalid request body: "+err.Error()))
		return
	}
	if h.engine.IsRunning(req.JobID) {
		c.JSON(http.StatusOK, fail("job "+strconv.FormatInt(req.JobID, 10)+" is running."))
		return
	}
	c.JSON(http.StatusOK, ok(nil))
}

// Run dispatches a RunData to the engine.
func (h *Handlers) Run(c *gin.Context) {
	var rd xxltypes.RunData
	if err := c.ShouldBindJSON(&rd); err != nil {
		c.JSON(http.StatusOK, fail("invalid request body: "+err.Error()))
		return
	}
	status, err := h.engine.Submit(rd)
	if err != nil {
		if h.log != nil {
			h.log.Warn("run rejected", "jobId", rd.JobID, "logId", rd.LogID, "error", err)
		}
		c.JSON(http.StatusOK, fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, ok(status))
}

// Kill cancels jobId's running invocation and discards its pending queue.
func (h *Handlers) Kill(c *gin.Context) {
	var req jobIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, fail("invalid request body: "+err.Error()))
		return
	}
	h.engine.Cancel(req.JobID, true)
	c.JSON(http.StatusOK, ok(nil))
}

type logRequest struct {
	LogDateTime int64 `json:"logDateTim"`
	LogID       int64 `json:"logId"`
	FromLineNum int   `json:"fromLineNum"`
}

type logContent struct {
	FromLineNum int    `json:"fromLineNum"`
	ToLineNum   int    `json:"toLineNum"`
	LogContent  string `json:"logContent"`
	IsEnd       bool   `json:"isEnd"`
}

// Log serves a page of a running or finished invocation's log.
func (h *Handlers) Log(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, fail("invalid request body: "+err.Error()))
		return
	}
	from := req.FromLineNum
	if from < 1 {
		from = 1
	}

	lines, isEnd, err := h.sink.Read(c.Request.Context(), req.LogID, from)
	if errors.Is(err, tasklog.ErrLogNotFound) {
		c.JSON(http.StatusOK, ok(logContent{FromLineNum: from, ToLineNum: from, LogContent: "No such logid logs.", IsEnd: true}))
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, fail(err.Error()))
		return
	}

	content := joinLines(lines)
	toLine := from + len(lines) - 1
	if len(lines) == 0 {
		toLine = from
	}
	c.JSON(http.StatusOK, ok(logContent{FromLineNum: from, ToLineNum: toLine, LogContent: content, IsEnd: isEnd}))
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

