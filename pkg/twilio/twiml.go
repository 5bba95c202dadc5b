package twilio

import (
	"net/url"
	"sort"

	"github.com/twilio/twilio-go/twiml"
)

// StreamTwiML answers Twilio with a bidirectional media stream to streamURL.
// Every parameter is passed as a <Parameter> and comes back in the stream's
// start event; values are XML escaped.
func StreamTwiML(streamURL string, params map[string]string) (string, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	inner := make([]twiml.Element, 0, len(names))
	for _, name := range names {
		inner = append(inner, twiml.VoiceParameter{Name: name, Value: params[name]})
	}

	stream := twiml.VoiceStream{
		Url:           streamURL,
		InnerElements: inner,
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// MediaStreamURL is the websocket URL Twilio connects the call audio to.
func MediaStreamURL(host string) string {
	u := url.URL{Scheme: "wss", Host: host, Path: "/outbound-media-stream"}
	return u.String()
}
