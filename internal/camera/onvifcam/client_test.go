package onvifcam

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/camhub-project/camhub/internal/config"
)

// soapServer serves canned SOAP responses keyed by a body fragment of the
// incoming request.
func soapServer(t *testing.T, responses map[string]string) (*httptest.Server, *Client) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		for fragment, resp := range responses {
			if strings.Contains(string(body), fragment) {
				w.Header().Set("Content-Type", "application/soap+xml")
				_, _ = w.Write([]byte(resp))
				return
			}
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	return srv, NewClient(u.Hostname(), port, "admin", "secret")
}

func envelope(body string) string {
	return `<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>` + body + `</s:Body></s:Envelope>`
}

func TestGetDeviceInformation(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetDeviceInformation": envelope(`<tds:GetDeviceInformationResponse xmlns:tds="http://www.onvif.org/ver10/device/wsdl"><tds:Manufacturer>Acme</tds:Manufacturer><tds:Model>PT-300</tds:Model><tds:FirmwareVersion>2.1</tds:FirmwareVersion><tds:SerialNumber>A1B2</tds:SerialNumber></tds:GetDeviceInformationResponse>`),
	})

	info, err := c.GetDeviceInformation(context.Background())
	if err != nil {
		t.Fatalf("GetDeviceInformation failed: %v", err)
	}
	if info.Manufacturer != "Acme" || info.Model != "PT-300" {
		t.Errorf("Unexpected device info: %+v", info)
	}
}

func TestGetProfileToken(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetProfiles": envelope(`<trt:GetProfilesResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl"><trt:Profiles token="profile_1"><tt:Name xmlns:tt="http://www.onvif.org/ver10/schema">Main</tt:Name></trt:Profiles><trt:Profiles token="profile_2"/></trt:GetProfilesResponse>`),
	})

	token, err := c.GetProfileToken(context.Background())
	if err != nil {
		t.Fatalf("GetProfileToken failed: %v", err)
	}
	if token != "profile_1" {
		t.Errorf("Expected first profile token, got %q", token)
	}
}

func TestGetProfileTokenEmpty(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetProfiles": envelope(`<trt:GetProfilesResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`),
	})

	if _, err := c.GetProfileToken(context.Background()); err == nil {
		t.Error("No profiles should be an error")
	}
}

func TestGetStreamURI(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetStreamUri": envelope(`<trt:GetStreamUriResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl"><trt:MediaUri><tt:Uri xmlns:tt="http://www.onvif.org/ver10/schema">rtsp://cam/stream1</tt:Uri></trt:MediaUri></trt:GetStreamUriResponse>`),
	})

	uri, err := c.GetStreamURI(context.Background(), "profile_1")
	if err != nil {
		t.Fatalf("GetStreamURI failed: %v", err)
	}
	if uri != "rtsp://cam/stream1" {
		t.Errorf("Unexpected URI %q", uri)
	}
}

func TestGetStatusWithPosition(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetStatus": envelope(`<tptz:GetStatusResponse xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"><tptz:PTZStatus><tt:Position xmlns:tt="http://www.onvif.org/ver10/schema"><tt:PanTilt x="0.5" y="-0.25"/><tt:Zoom x="0.1"/></tt:Position></tptz:PTZStatus></tptz:GetStatusResponse>`),
	})

	pos, err := c.GetStatus(context.Background(), "profile_1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if pos == nil {
		t.Fatal("Expected a position")
	}
	if pos.Pan != 0.5 || pos.Tilt != -0.25 || pos.Zoom != 0.1 {
		t.Errorf("Unexpected position %+v", pos)
	}
}

func TestGetStatusWithoutPosition(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetStatus": envelope(`<tptz:GetStatusResponse xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"><tptz:PTZStatus><tt:MoveStatus xmlns:tt="http://www.onvif.org/ver10/schema"><tt:PanTilt>IDLE</tt:PanTilt></tt:MoveStatus></tptz:PTZStatus></tptz:GetStatusResponse>`),
	})

	pos, err := c.GetStatus(context.Background(), "profile_1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if pos != nil {
		t.Errorf("Device without feedback should yield nil, got %+v", pos)
	}
}

func TestGetPresets(t *testing.T) {
	_, c := soapServer(t, map[string]string{
		"GetPresets": envelope(`<tptz:GetPresetsResponse xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"><tptz:Preset token="p1"><tt:Name xmlns:tt="http://www.onvif.org/ver10/schema">Gate</tt:Name></tptz:Preset><tptz:Preset token="p2"><tt:Name xmlns:tt="http://www.onvif.org/ver10/schema">Door</tt:Name></tptz:Preset></tptz:GetPresetsResponse>`),
	})

	presets, err := c.GetPresets(context.Background(), "profile_1")
	if err != nil {
		t.Fatalf("GetPresets failed: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("Expected 2 presets, got %d", len(presets))
	}
	if presets[0].Token != "p1" || presets[0].Name != "Gate" {
		t.Errorf("Unexpected preset %+v", presets[0])
	}
}

func TestPullMessages(t *testing.T) {
	srv, c := soapServer(t, map[string]string{
		"PullMessages": envelope(`<tev:PullMessagesResponse xmlns:tev="http://www.onvif.org/ver10/events/wsdl" xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2" xmlns:tt="http://www.onvif.org/ver10/schema"><tev:NotificationMessage><wsnt:Topic>tns1:RuleEngine/CellMotionDetector/Motion</wsnt:Topic><wsnt:Message><tt:Message UtcTime="2026-08-25T10:00:00Z"><tt:Data><tt:SimpleItem Name="IsMotion" Value="true"/><tt:SimpleItem Name="Window" Value="0"/></tt:Data></tt:Message></wsnt:Message></tev:NotificationMessage><tev:NotificationMessage><wsnt:Topic></wsnt:Topic><wsnt:Message><tt:Message/></wsnt:Message></tev:NotificationMessage></tev:PullMessagesResponse>`),
	})

	msgs, err := c.PullMessages(context.Background(), srv.URL, 5*time.Second, 10)
	if err != nil {
		t.Fatalf("PullMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Message without topic should be skipped, got %d messages", len(msgs))
	}

	m := msgs[0]
	if m.Topic != "tns1:RuleEngine/CellMotionDetector/Motion" {
		t.Errorf("Unexpected topic %q", m.Topic)
	}
	if m.State != "true" {
		t.Errorf("Expected state true from IsMotion item, got %q", m.State)
	}
	if m.Data["Window"] != "0" {
		t.Errorf("Expected Window data item, got %v", m.Data)
	}
	if m.Time.UTC().Hour() != 10 {
		t.Errorf("Expected parsed UtcTime, got %v", m.Time)
	}
}

func TestSoapFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body><s:Fault><s:Reason><s:Text xml:lang="en">Action not supported</s:Text></s:Reason></s:Fault></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	c := NewClient(u.Hostname(), port, "", "")

	_, err := c.GetDeviceInformation(context.Background())
	if err == nil {
		t.Fatal("Fault should surface as an error")
	}
	if !strings.Contains(err.Error(), "Action not supported") {
		t.Errorf("Fault reason should be in the error, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(config.CameraConfig{Name: "porch", Type: TypeTag})
	if err == nil {
		t.Error("Missing host should fail construction")
	}

	cam, err := New(config.CameraConfig{
		Name:   "porch",
		Type:   TypeTag,
		Params: map[string]string{"host": "192.168.1.50"},
	})
	if err != nil {
		t.Fatalf("Construction failed: %v", err)
	}
	if cam.Status().Connected {
		t.Error("Construction must not connect")
	}
	if cam.Status().State != "disconnected" {
		t.Errorf("New camera should be disconnected, got %s", cam.Status().State)
	}
}
