// Package modbushttp tunnels modbus RTU frames to a remote serial bus over HTTP.
package modbushttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// SendResponse is the bridge's reply to one request frame.
type SendResponse struct {
	ADUResponse []byte
	Error       string
}

type Client struct {
	*modbus.RTUClientHandler

	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, slaveID byte) *Client {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = slaveID
	if handler.SlaveId == 0 {
		handler.SlaveId = 1
	}
	return &Client{
		RTUClientHandler: handler,
		baseURL:          baseURL,
		http:             &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Send(aduRequest []byte) ([]byte, error) {
	resp, err := c.http.Post(c.baseURL, "application/octet-stream", bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}

func (c *Client) Connect() error {
	return nil
}

func (c *Client) Close() error {
	return nil
}

// Sender forwards one RTU frame to the bus and returns the reply frame.
type Sender interface {
	Send(aduRequest []byte) ([]byte, error)
}

// Handler is the bridge end of the protocol. When Password is set, requests must
// carry it as the basic auth password; clients put it in the URL userinfo.
type Handler struct {
	Sender   Sender
	Password string
	Logger   *zap.SugaredLogger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Password != "" {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != h.Password {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
	}
	err := func() error {
		aduRequest, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		aduResponse, err := h.Sender.Send(aduRequest)
		var errString string
		if err != nil {
			errString = err.Error()
		}
		body, err := json.Marshal(&SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		if h.Logger != nil {
			h.Logger.Errorf("bridging request from %v: %v", r.RemoteAddr, err)
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
