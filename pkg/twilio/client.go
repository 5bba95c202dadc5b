package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/metrics"
	"github.com/troikatech/voice-relay/pkg/otel"
)

// StatusCallbackEvents are the call progress events we subscribe to.
var StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// ErrPlacementRejected is returned when Twilio refuses to create the call.
var ErrPlacementRejected = errors.New("twilio rejected call placement")

// CallRequest describes one outbound call.
type CallRequest struct {
	To string
	// TwiMLURL is fetched by Twilio once the callee answers.
	TwiMLURL string
	// StatusCallbackURL receives call progress events.
	StatusCallbackURL string
}

// callCreator is the slice of the REST client we use.
type callCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

type Client struct {
	api    callCreator
	from   string
	logger *zap.Logger
}

func NewClient(accountSID, authToken, fromNumber string, log *zap.Logger) *Client {
	rest := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, from: fromNumber, logger: log}
}

// PlaceCall dials req.To from the configured number and returns the call SID.
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(c.from)
	params.SetUrl(req.TwiMLURL)
	params.SetMethod("POST")
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackEvent(StatusCallbackEvents)
		params.SetStatusCallbackMethod("POST")
	}

	_, end := otel.StartClientSpan(ctx, "twilio", "create_call")
	start := time.Now()
	resp, err := c.api.CreateCall(params)
	metrics.RecordServiceCall("twilio", err == nil, time.Since(start))

	if err != nil {
		status := 0
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) {
			status = restErr.Status
		}
		end(status, err)
		c.logger.Error("Twilio call placement failed",
			logger.MaskPhone("to", req.To),
			zap.Int("status", status),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrPlacementRejected, err)
	}
	end(201, nil)

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Info("Call placed",
		logger.MaskPhone("to", req.To),
		zap.String("call_sid", sid),
	)
	return sid, nil
}

// CallbackURL builds an https URL on host with the given query parameters.
func CallbackURL(host, path string, query url.Values) string {
	u := url.URL{Scheme: "https", Host: host, Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
