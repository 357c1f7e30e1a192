package Adhoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"ComicDetServer/logger"
	"ComicDetServer/magic"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

// RegisterRequest announces this instance to the registration server.
type RegisterRequest struct {
	Id        string   `json:"id"`
	IP        string   `json:"ip"`
	HTTPPort  int      `json:"httpPort"`
	RPCPort   int      `json:"rpcPort"`
	Workers   int      `json:"workers"`
	Formats   []string `json:"formats"`
	TimeStamp int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Formats lists the container formats this build can open.
func Formats() []string {
	return []string{
		magic.Zip.String(), magic.Rar.String(), magic.SevenZip.String(),
		magic.Pdf.String(), magic.Directory.String(),
	}
}

// GetOutboundIP asks the routing table which local address reaches the
// outside; no packet is sent.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// SendAliveMessage registers self immediately and then every interval until
// ctx is done. Failures are logged and retried on the next tick.
func SendAliveMessage(ctx context.Context, reg RegServerConfig, self RegisterRequest, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	if self.Id == "" {
		self.Id = uuid.NewString()
	}
	url := reg.URL()

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		var respBody RegisterResponse
		self.TimeStamp = time.Now().Unix()
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(self).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			logger.Log().Warn("register request failed", zap.String("url", url), zap.Error(err))
			return
		}
		if resp.IsError() || !respBody.Success {
			logger.Log().Warn("register server refused", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
