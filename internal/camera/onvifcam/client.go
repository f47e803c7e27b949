package onvifcam

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal ONVIF SOAP binding. It issues only the envelopes the
// hub needs: device info, media stream URI, PTZ control, and pull-point
// event subscription. Responses are parsed by local element name so the
// varying vendor namespace prefixes do not matter.
type Client struct {
	host     string
	port     int
	username string
	password string

	http *http.Client
}

// NewClient creates an ONVIF client for the given device. No I/O happens
// until the first call.
func NewClient(host string, port int, username, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// serviceURL returns the device service endpoint. Most cameras accept all
// service requests on the device_service path.
func (c *Client) serviceURL() string {
	return fmt.Sprintf("http://%s:%d/onvif/device_service", c.host, c.port)
}

// securityHeader builds a WS-UsernameToken digest header:
// Base64(SHA1(nonce + created + password)).
func (c *Client) securityHeader() (string, error) {
	if c.username == "" {
		return "", nil
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	created := time.Now().UTC().Format(time.RFC3339)

	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(c.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(`<s:Header><wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd" xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"><wsse:UsernameToken><wsse:Username>%s</wsse:Username><wsse:Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</wsse:Password><wsse:Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</wsse:Nonce><wsu:Created>%s</wsu:Created></wsse:UsernameToken></wsse:Security></s:Header>`,
		xmlEscape(c.username), digest, base64.StdEncoding.EncodeToString(nonce), created), nil
}

// call posts a SOAP envelope wrapping body to endpoint and unmarshals the
// response into out (when out is non-nil).
func (c *Client) call(ctx context.Context, endpoint, body string, out interface{}) error {
	header, err := c.securityHeader()
	if err != nil {
		return err
	}

	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:trt="http://www.onvif.org/ver10/media/wsdl" xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema" xmlns:tev="http://www.onvif.org/ver10/events/wsdl" xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2">%s<s:Body>%s</s:Body></s:Envelope>`, header, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("onvif request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read onvif response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if fault := parseFault(data); fault != "" {
			return fmt.Errorf("onvif fault: %s", fault)
		}
		return fmt.Errorf("onvif returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse onvif response: %w", err)
	}
	return nil
}

// DeviceInfo holds the GetDeviceInformation response fields the hub uses.
type DeviceInfo struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
}

// GetDeviceInformation queries basic device identity. It doubles as the
// connectivity probe during Connect.
func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInfo, error) {
	var resp struct {
		Manufacturer    string `xml:"Body>GetDeviceInformationResponse>Manufacturer"`
		Model           string `xml:"Body>GetDeviceInformationResponse>Model"`
		FirmwareVersion string `xml:"Body>GetDeviceInformationResponse>FirmwareVersion"`
		SerialNumber    string `xml:"Body>GetDeviceInformationResponse>SerialNumber"`
	}
	if err := c.call(ctx, c.serviceURL(), `<tds:GetDeviceInformation/>`, &resp); err != nil {
		return nil, err
	}
	return &DeviceInfo{
		Manufacturer:    resp.Manufacturer,
		Model:           resp.Model,
		FirmwareVersion: resp.FirmwareVersion,
		SerialNumber:    resp.SerialNumber,
	}, nil
}

// GetProfileToken returns the first media profile token. All PTZ and
// stream requests are issued against it.
func (c *Client) GetProfileToken(ctx context.Context) (string, error) {
	var resp struct {
		Profiles []struct {
			Token string `xml:"token,attr"`
		} `xml:"Body>GetProfilesResponse>Profiles"`
	}
	if err := c.call(ctx, c.serviceURL(), `<trt:GetProfiles/>`, &resp); err != nil {
		return "", err
	}
	if len(resp.Profiles) == 0 {
		return "", fmt.Errorf("device reported no media profiles")
	}
	return resp.Profiles[0].Token, nil
}

// GetStreamURI returns the RTSP URI for the profile.
func (c *Client) GetStreamURI(ctx context.Context, profile string) (string, error) {
	body := fmt.Sprintf(`<trt:GetStreamUri><trt:StreamSetup><tt:Stream>RTP-Unicast</tt:Stream><tt:Transport><tt:Protocol>RTSP</tt:Protocol></tt:Transport></trt:StreamSetup><trt:ProfileToken>%s</trt:ProfileToken></trt:GetStreamUri>`, xmlEscape(profile))

	var resp struct {
		URI string `xml:"Body>GetStreamUriResponse>MediaUri>Uri"`
	}
	if err := c.call(ctx, c.serviceURL(), body, &resp); err != nil {
		return "", err
	}
	return resp.URI, nil
}

// ContinuousMove starts a velocity move that runs until Stop or the
// vendor-side timeout.
func (c *Client) ContinuousMove(ctx context.Context, profile string, pan, tilt, zoom float64) error {
	body := fmt.Sprintf(`<tptz:ContinuousMove><tptz:ProfileToken>%s</tptz:ProfileToken><tptz:Velocity><tt:PanTilt x="%g" y="%g"/><tt:Zoom x="%g"/></tptz:Velocity></tptz:ContinuousMove>`,
		xmlEscape(profile), pan, tilt, zoom)
	return c.call(ctx, c.serviceURL(), body, nil)
}

// AbsoluteMove moves to an absolute position.
func (c *Client) AbsoluteMove(ctx context.Context, profile string, pan, tilt, zoom float64) error {
	body := fmt.Sprintf(`<tptz:AbsoluteMove><tptz:ProfileToken>%s</tptz:ProfileToken><tptz:Position><tt:PanTilt x="%g" y="%g"/><tt:Zoom x="%g"/></tptz:Position></tptz:AbsoluteMove>`,
		xmlEscape(profile), pan, tilt, zoom)
	return c.call(ctx, c.serviceURL(), body, nil)
}

// Stop halts pan, tilt, and zoom movement.
func (c *Client) Stop(ctx context.Context, profile string) error {
	body := fmt.Sprintf(`<tptz:Stop><tptz:ProfileToken>%s</tptz:ProfileToken><tptz:PanTilt>true</tptz:PanTilt><tptz:Zoom>true</tptz:Zoom></tptz:Stop>`, xmlEscape(profile))
	return c.call(ctx, c.serviceURL(), body, nil)
}

// Preset is a vendor preset reference. Tokens are opaque to the hub.
type Preset struct {
	Token string
	Name  string
}

// GetPresets lists the device's stored presets.
func (c *Client) GetPresets(ctx context.Context, profile string) ([]Preset, error) {
	body := fmt.Sprintf(`<tptz:GetPresets><tptz:ProfileToken>%s</tptz:ProfileToken></tptz:GetPresets>`, xmlEscape(profile))

	var resp struct {
		Presets []struct {
			Token string `xml:"token,attr"`
			Name  string `xml:"Name"`
		} `xml:"Body>GetPresetsResponse>Preset"`
	}
	if err := c.call(ctx, c.serviceURL(), body, &resp); err != nil {
		return nil, err
	}

	presets := make([]Preset, 0, len(resp.Presets))
	for _, p := range resp.Presets {
		presets = append(presets, Preset{Token: p.Token, Name: p.Name})
	}
	return presets, nil
}

// GotoPreset moves to a stored preset by token.
func (c *Client) GotoPreset(ctx context.Context, profile, token string) error {
	body := fmt.Sprintf(`<tptz:GotoPreset><tptz:ProfileToken>%s</tptz:ProfileToken><tptz:PresetToken>%s</tptz:PresetToken></tptz:GotoPreset>`,
		xmlEscape(profile), xmlEscape(token))
	return c.call(ctx, c.serviceURL(), body, nil)
}

// Position is the device-reported PTZ position.
type Position struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

// GetStatus returns position feedback, or nil when the device does not
// report a position. Callers must treat nil as unknown.
func (c *Client) GetStatus(ctx context.Context, profile string) (*Position, error) {
	body := fmt.Sprintf(`<tptz:GetStatus><tptz:ProfileToken>%s</tptz:ProfileToken></tptz:GetStatus>`, xmlEscape(profile))

	var resp struct {
		Position struct {
			PanTilt *struct {
				X float64 `xml:"x,attr"`
				Y float64 `xml:"y,attr"`
			} `xml:"PanTilt"`
			Zoom *struct {
				X float64 `xml:"x,attr"`
			} `xml:"Zoom"`
		} `xml:"Body>GetStatusResponse>PTZStatus>Position"`
	}
	if err := c.call(ctx, c.serviceURL(), body, &resp); err != nil {
		return nil, err
	}

	if resp.Position.PanTilt == nil {
		return nil, nil
	}
	pos := &Position{Pan: resp.Position.PanTilt.X, Tilt: resp.Position.PanTilt.Y}
	if resp.Position.Zoom != nil {
		pos.Zoom = resp.Position.Zoom.X
	}
	return pos, nil
}

// CreatePullPoint creates a pull-point event subscription and returns its
// address. Many cameras advertise this without implementing it; callers
// treat failure as a normal outcome.
func (c *Client) CreatePullPoint(ctx context.Context) (string, error) {
	body := `<tev:CreatePullPointSubscription><tev:InitialTerminationTime>PT60S</tev:InitialTerminationTime></tev:CreatePullPointSubscription>`

	var resp struct {
		Address string `xml:"Body>CreatePullPointSubscriptionResponse>SubscriptionReference>Address"`
	}
	if err := c.call(ctx, c.serviceURL(), body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Address) == "" {
		return "", fmt.Errorf("device returned empty subscription address")
	}
	return strings.TrimSpace(resp.Address), nil
}

// NotificationMessage is one event from a PullMessages batch.
type NotificationMessage struct {
	Topic string
	Time  time.Time
	State string
	Data  map[string]string
}

// PullMessages polls the subscription with a bounded server-side wait and
// batch size. Messages missing required fields are skipped, not fatal.
func (c *Client) PullMessages(ctx context.Context, address string, wait time.Duration, limit int) ([]NotificationMessage, error) {
	seconds := int(wait / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	body := fmt.Sprintf(`<tev:PullMessages><tev:Timeout>PT%dS</tev:Timeout><tev:MessageLimit>%d</tev:MessageLimit></tev:PullMessages>`, seconds, limit)

	var resp struct {
		Messages []struct {
			Topic   string `xml:"Topic"`
			Message struct {
				UtcTime string `xml:"UtcTime,attr"`
				Data    struct {
					Items []struct {
						Name  string `xml:"Name,attr"`
						Value string `xml:"Value,attr"`
					} `xml:"SimpleItem"`
				} `xml:"Data"`
			} `xml:"Message>Message"`
		} `xml:"Body>PullMessagesResponse>NotificationMessage"`
	}
	if err := c.call(ctx, address, body, &resp); err != nil {
		return nil, err
	}

	msgs := make([]NotificationMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		topic := strings.TrimSpace(m.Topic)
		if topic == "" {
			continue
		}

		msg := NotificationMessage{
			Topic: topic,
			Time:  time.Now(),
			Data:  make(map[string]string, len(m.Message.Data.Items)),
		}
		if m.Message.UtcTime != "" {
			if t, err := time.Parse(time.RFC3339, m.Message.UtcTime); err == nil {
				msg.Time = t
			}
		}
		for _, item := range m.Message.Data.Items {
			if item.Name == "" {
				continue
			}
			msg.Data[item.Name] = item.Value
			if item.Name == "State" || item.Name == "IsMotion" || item.Name == "LogicalState" {
				msg.State = item.Value
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Unsubscribe tears down a pull-point subscription.
func (c *Client) Unsubscribe(ctx context.Context, address string) error {
	return c.call(ctx, address, `<wsnt:Unsubscribe/>`, nil)
}

// parseFault extracts a human-readable reason from a SOAP fault body.
func parseFault(data []byte) string {
	var fault struct {
		Reason string `xml:"Body>Fault>Reason>Text"`
		Code   string `xml:"Body>Fault>Code>Subcode>Value"`
	}
	if err := xml.Unmarshal(data, &fault); err != nil {
		return ""
	}
	reason := strings.TrimSpace(fault.Reason)
	if reason == "" {
		return strings.TrimSpace(fault.Code)
	}
	return reason
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
