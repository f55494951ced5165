package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"xray-inference/internal/config"
	"xray-inference/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the ports
var (
	_ adapter.ModelLoader = (*TFServingLoader)(nil)
	_ adapter.Model       = (*tfServingModel)(nil)
)

// TFServingLoader constructs a Model backed by a TensorFlow Serving REST endpoint.
// Load binds the input and output anchors from the signature metadata of an
// AVAILABLE version, then runs one warm-up prediction.
type TFServingLoader struct {
	cfg    config.ModelConfig
	client *http.Client
}

func NewTFServingLoader(cfg config.ModelConfig, client *http.Client) *TFServingLoader {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &TFServingLoader{cfg: cfg, client: client}
}

func (l *TFServingLoader) modelURL() string {
	u := strings.TrimRight(l.cfg.ServingURL, "/") + "/v1/models/" + l.cfg.Name
	if l.cfg.Version > 0 {
		u += "/versions/" + strconv.FormatInt(l.cfg.Version, 10)
	}
	return u
}

func (l *TFServingLoader) Load(ctx context.Context) (adapter.Model, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	sig, err := l.signature(ctx)
	if err != nil {
		return nil, err
	}
	inKey, inName, ok := sig.Inputs.bind(l.cfg.InputTensor)
	if !ok {
		return nil, fmt.Errorf("tfserving: input tensor %q not in signature %q", l.cfg.InputTensor, l.cfg.Signature)
	}
	outKey, outName, ok := sig.Outputs.bind(l.cfg.OutputTensor)
	if !ok {
		return nil, fmt.Errorf("tfserving: output tensor %q not in signature %q", l.cfg.OutputTensor, l.cfg.Signature)
	}

	m := &tfServingModel{
		client:     l.client,
		predictURL: l.modelURL() + ":predict",
		signature:  l.cfg.Signature,
		inKey:      inKey,
		outKey:     outKey,
		inName:     inName,
		outName:    outName,
	}

	size := l.cfg.ImageSize
	warm := adapter.Tensor{Shape: []int{1, size, size, 3}, Data: make([]float32, size*size*3)}
	if _, err := m.Predict(ctx, warm); err != nil {
		return nil, fmt.Errorf("tfserving warm-up: %w", err)
	}
	return m, nil
}

func (l *TFServingLoader) checkAvailable(ctx context.Context) error {
	var payload struct {
		Versions []struct {
			Version string `json:"version"`
			State   string `json:"state"`
		} `json:"model_version_status"`
	}
	if err := getJSON(ctx, l.client, l.modelURL(), &payload); err != nil {
		return fmt.Errorf("tfserving status: %w", err)
	}
	for _, v := range payload.Versions {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("tfserving: model %q has no AVAILABLE version", l.cfg.Name)
}

type tensorInfo struct {
	Name string `json:"name"`
}

type tensorMap map[string]tensorInfo

// bind finds a tensor by alias or by graph name ("input_1" matches "input_1:0").
func (m tensorMap) bind(want string) (alias, name string, ok bool) {
	if ti, found := m[want]; found {
		return want, ti.Name, true
	}
	for k, ti := range m {
		if ti.Name == want || strings.TrimSuffix(ti.Name, ":0") == want {
			return k, ti.Name, true
		}
	}
	return "", "", false
}

type signatureDef struct {
	Inputs  tensorMap `json:"inputs"`
	Outputs tensorMap `json:"outputs"`
}

func (l *TFServingLoader) signature(ctx context.Context) (*signatureDef, error) {
	var payload struct {
		Metadata struct {
			SignatureDef struct {
				SignatureDef map[string]signatureDef `json:"signature_def"`
			} `json:"signature_def"`
		} `json:"metadata"`
	}
	if err := getJSON(ctx, l.client, l.modelURL()+"/metadata", &payload); err != nil {
		return nil, fmt.Errorf("tfserving metadata: %w", err)
	}
	sig, ok := payload.Metadata.SignatureDef.SignatureDef[l.cfg.Signature]
	if !ok {
		return nil, fmt.Errorf("tfserving: signature %q not found", l.cfg.Signature)
	}
	return &sig, nil
}

type tfServingModel struct {
	client     *http.Client
	predictURL string
	signature  string
	inKey      string
	outKey     string
	inName     string
	outName    string
}

func (m *tfServingModel) Anchors() (string, string) { return m.inName, m.outName }

func (m *tfServingModel) Predict(ctx context.Context, in adapter.Tensor) ([]float32, error) {
	reqBody := struct {
		SignatureName string                `json:"signature_name"`
		Inputs        map[string]jsonTensor `json:"inputs"`
	}{
		SignatureName: m.signature,
		Inputs:        map[string]jsonTensor{m.inKey: jsonTensor(in)},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.predictURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tfserving predict http %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var payload struct {
		Outputs json.RawMessage `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return firstRow(payload.Outputs, m.outKey)
}

// firstRow accepts both response shapes of the columnar API: a bare batch
// when the signature has one output, or a map keyed by output alias.
func firstRow(raw json.RawMessage, outKey string) ([]float32, error) {
	var batch [][]float32
	if err := json.Unmarshal(raw, &batch); err != nil {
		var named map[string][][]float32
		if err2 := json.Unmarshal(raw, &named); err2 != nil {
			return nil, fmt.Errorf("tfserving: unexpected outputs: %w", err)
		}
		batch = named[outKey]
	}
	if len(batch) == 0 {
		return nil, errors.New("tfserving: empty prediction batch")
	}
	return batch[0], nil
}

// jsonTensor marshals a flat tensor as nested JSON arrays following its shape.
type jsonTensor adapter.Tensor

func (t jsonTensor) MarshalJSON() ([]byte, error) {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	if n != len(t.Data) {
		return nil, fmt.Errorf("tensor shape %v does not match %d values", t.Shape, len(t.Data))
	}
	for i, v := range t.Data {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("tensor value %d is non-finite (%v)", i, v)
		}
	}
	buf := make([]byte, 0, len(t.Data)*6)
	buf, _ = appendNested(buf, t.Shape, t.Data)
	return buf, nil
}

func appendNested(buf []byte, shape []int, data []float32) ([]byte, []float32) {
	if len(shape) == 0 {
		return strconv.AppendFloat(buf, float64(data[0]), 'g', -1, 32), data[1:]
	}
	buf = append(buf, '[')
	for i := 0; i < shape[0]; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf, data = appendNested(buf, shape[1:], data)
	}
	return append(buf, ']'), data
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
