package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhye/rhye-dev/internal/logx"
	"github.com/rhye/rhye-dev/internal/tabs"
)

type relayRequest struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// relayHandler adds the shared token and passes the message on to the
// webhook. Its replies are passed back untouched.
func (a *app) relayHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := logx.Ctx(ctx)

	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("relay request rejected", "err", err)
		a.admin.recordSubmission(ctx, c.ClientIP(), c.GetHeader("User-Agent"), "invalid", http.StatusInternalServerError)
		relayFailure(c)
		return
	}

	reply, err := a.forwarder.Forward(ctx, tabs.Submission{AuthorName: req.User, Content: req.Message})
	if err != nil {
		log.Error("relay forward failed", "err", err)
		a.admin.recordSubmission(ctx, c.ClientIP(), c.GetHeader("User-Agent"), "transport", http.StatusInternalServerError)
		relayFailure(c)
		return
	}

	outcome := "success"
	switch {
	case !reply.OK():
		outcome = "upstream_error"
	case reply.Ack.Status != tabs.StatusSuccess:
		outcome = "rejected"
	}
	a.admin.recordSubmission(ctx, c.ClientIP(), c.GetHeader("User-Agent"), outcome, reply.StatusCode)

	status := http.StatusOK
	if !reply.OK() {
		status = reply.StatusCode
	}
	c.Data(status, "application/json", reply.Body)
}

func relayFailure(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "data": MsgInternalError})
}
