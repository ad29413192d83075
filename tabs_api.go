package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rhye/rhye-dev/internal/logx"
	"github.com/rhye/rhye-dev/internal/prefs"
	"github.com/rhye/rhye-dev/internal/tabs"
)

type noteRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

type renameRequest struct {
	Title string `json:"title"`
}

func tabsResponse(m *tabs.Manager) gin.H {
	return gin.H{
		"tabs":    m.Tabs(),
		"active":  m.Active(),
		"address": m.Address(),
	}
}

func (a *app) newSessionHandler(c *gin.Context) {
	sess, err := a.sessions.reload(c.Request.Context(), visitorID(c))
	if err != nil {
		logx.Ctx(c.Request.Context()).Error("page session start failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": MsgInternalError})
		return
	}
	resp := tabsResponse(sess.manager)
	resp["session"] = sess.id
	c.JSON(http.StatusCreated, resp)
}

func (a *app) listTabsHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tabsResponse(sess.manager))
}

func (a *app) createTabHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	id, err := sess.manager.CreateDraftTab(c.Request.Context())
	if err != nil {
		writeTabError(c, err)
		return
	}
	pane, _ := sess.manager.Pane(id)
	resp := tabsResponse(sess.manager)
	resp["id"] = id
	resp["pane"] = pane
	c.JSON(http.StatusCreated, resp)
}

func (a *app) activateTabHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	if !sess.manager.SwitchTo(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": MsgTabNotFound})
		return
	}
	c.JSON(http.StatusOK, tabsResponse(sess.manager))
}

func (a *app) renameTabHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	title, err := sess.manager.RenameDraftTab(c.Param("id"), req.Title)
	if err != nil {
		writeTabError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "title": title})
}

func (a *app) closeTabHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if !sess.manager.CloseTab(c.Request.Context(), id) {
		if tabs.IsPermanent(id) {
			c.JSON(http.StatusConflict, gin.H{"error": MsgTabPermanent})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": MsgTabNotFound})
		return
	}
	c.JSON(http.StatusOK, tabsResponse(sess.manager))
}

func (a *app) editPaneHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pane, err := sess.manager.Edit(c.Param("id"), req.Author, req.Content)
	if err != nil {
		writeTabError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pane": pane})
}

func (a *app) restoreDraftHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	d, found, err := sess.manager.RestoreDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTabError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": MsgNoDraft})
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": d})
}

func (a *app) saveDraftHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := sess.manager.SaveDraft(c.Request.Context(), c.Param("id"), req.Author, req.Content)
	var verr *tabs.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  MsgNothingToSave,
			"fields": fieldErrors(verr),
		})
		return
	}
	if err != nil {
		writeTabError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": d, "message": MsgSaved})
}

func (a *app) clearDraftHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	res, err := sess.manager.ClearDraft(c.Request.Context(), c.Param("id"), func() bool {
		return confirmed
	})
	if err != nil {
		writeTabError(c, err)
		return
	}
	resp := gin.H{"result": res.String()}
	if res == tabs.ClearCancelled {
		resp["confirm"] = MsgClearConfirm
	}
	c.JSON(http.StatusOK, resp)
}

func (a *app) submitDraftHandler(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ack, err := sess.manager.SubmitDraft(c.Request.Context(), c.Param("id"), req.Author, req.Content)
	if err != nil {
		writeTabError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": ack.Status, "data": ack.Data, "message": MsgSent})
}

func fieldErrors(verr *tabs.ValidationError) gin.H {
	fields := gin.H{}
	for _, f := range verr.Missing {
		fields[string(f)] = FieldErrors[string(f)]
	}
	return fields
}

// writeTabError maps manager errors onto statuses and the page's toasts.
func writeTabError(c *gin.Context, err error) {
	var (
		verr *tabs.ValidationError
		rerr *tabs.RemoteRejectedError
		terr *tabs.TransportError
	)
	switch {
	case errors.As(err, &verr):
		toasts := make([]string, 0, len(verr.Missing))
		if verr.Has(tabs.FieldAuthor) {
			toasts = append(toasts, MsgNeedName)
		}
		if verr.Has(tabs.FieldContent) {
			toasts = append(toasts, MsgNeedMessage)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  toasts[0],
			"errors": toasts,
			"fields": fieldErrors(verr),
		})
	case errors.As(err, &rerr):
		msg := rerr.Message
		if msg == "" {
			msg = MsgRemoteError
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Error: " + msg, "status": rerr.Status})
	case errors.As(err, &terr):
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logx.Ctx(c.Request.Context()).Warn("submission transport failed", "err", err)
		c.JSON(status, gin.H{"error": MsgNetworkError})
	case errors.Is(err, tabs.ErrTabNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": MsgTabNotFound})
	case errors.Is(err, tabs.ErrNotDraft):
		c.JSON(http.StatusConflict, gin.H{"error": MsgNotDraftTab})
	case errors.Is(err, tabs.ErrSubmitInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": MsgSending})
	case errors.Is(err, tabs.ErrTabLimit):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": MsgTabLimit})
	default:
		logx.Ctx(c.Request.Context()).Error("tab operation failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": MsgInternalError})
	}
}

func (a *app) prefsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	store := a.storeFor(visitorID(c))
	theme, err := prefs.LoadTheme(ctx, store)
	if err != nil {
		logx.Ctx(ctx).Warn("theme load failed", "err", err)
	}
	first, err := prefs.FirstVisit(ctx, store)
	if err != nil {
		logx.Ctx(ctx).Warn("visited flag failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"theme": theme, "icon": theme.Icon(), "first_visit": first})
}

func (a *app) toggleThemeHandler(c *gin.Context) {
	ctx := c.Request.Context()
	theme, err := prefs.ToggleTheme(ctx, a.storeFor(visitorID(c)))
	if err != nil {
		logx.Ctx(ctx).Error("theme toggle failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": MsgInternalError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": theme, "icon": theme.Icon()})
}
