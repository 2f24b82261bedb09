package main

import (
	"context"
	"log"
	"log/slog"
	"strconv"
	"strings"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"

	"predictive-maintenance/utils"
	"predictive-maintenance/workbench"
)

const socketRankTimeout = 30 * time.Second

type socketController struct {
	wb     *workbench.Workbench
	server *socketio.Server
	logger *slog.Logger
}

func newSocketController(wb *workbench.Workbench, server *socketio.Server) *socketController {
	return &socketController{wb: wb, server: server, logger: utils.GetLogger()}
}

func (c *socketController) register() {
	c.server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		c.emitRiskPage(socket, c.wb.CurrentPage())
		return nil
	})

	c.server.OnEvent("/", "requestRiskPage", func(socket socketio.Conn, msg string) {
		go c.handleRequestRiskPage(socket, msg)
	})

	c.server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	c.server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	c.wb.Subscribe(c.handleWorkbenchEvent)
}

func (c *socketController) handleRequestRiskPage(socket socketio.Conn, msg string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in requestRiskPage for socket %s: %v\n", socket.ID(), r)
			socket.Emit("riskError", map[string]string{"message": "internal server error"})
		}
	}()

	page := 0
	if msg = strings.TrimSpace(msg); msg != "" {
		n, err := strconv.Atoi(msg)
		if err != nil {
			socket.Emit("riskError", map[string]string{"message": "page must be an integer"})
			return
		}
		page = n
	}
	c.emitRiskPage(socket, page)
}

func (c *socketController) emitRiskPage(socket socketio.Conn, page int) {
	ctx, cancel := context.WithTimeout(context.Background(), socketRankTimeout)
	defer cancel()

	view, err := c.wb.RiskPage(ctx, page)
	if err != nil {
		c.logger.WarnContext(ctx, "risk page unavailable",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)))
		socket.Emit("riskError", map[string]string{"message": err.Error()})
		return
	}
	socket.Emit("riskPage", view)
}

// handleWorkbenchEvent pushes the change and the refreshed displayed page to
// every connected client.
func (c *socketController) handleWorkbenchEvent(ev workbench.Event) {
	if ev.Kind == workbench.EventMachineUpdated || ev.Kind == workbench.EventMachineCreated {
		c.server.BroadcastToNamespace("/", "machineUpdated", ev)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), socketRankTimeout)
		defer cancel()

		view, err := c.wb.RiskPage(ctx, c.wb.CurrentPage())
		if err != nil {
			c.logger.WarnContext(ctx, "failed to refresh risk page",
				slog.String("event", string(ev.Kind)),
				slog.Any("error", xerrors.New(err)))
			return
		}
		c.server.BroadcastToNamespace("/", "riskPage", view)
	}()
}
