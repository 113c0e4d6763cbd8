// Package classifier wraps the pretrained ONNX X-ray model behind a
// simple image-in, verdict-out API.
package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes the exported model: tensor shapes, the ordered
// class names and the square input size the network was trained on.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Verdict is one classification result.
type Verdict struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Confidences map[string]float32 `json:"confidences"`
}

// Classifier owns an ONNX runtime session with reusable input/output
// tensors. The session is not reentrant, so inference runs under a
// mutex; callers may share one Classifier across goroutines.
type Classifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]

	Metadata Metadata
}

// New initializes the ONNX environment and loads the model and its
// metadata sidecar.
func New(modelPath, metadataPath string) (*Classifier, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}

	raw, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse model metadata: %w", err)
	}
	if len(meta.Classes) == 0 {
		return nil, fmt.Errorf("model metadata lists no classes")
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &Classifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		Metadata:     meta,
	}, nil
}

// Predict runs inference on preprocessed CHW float32 data and returns
// the argmax class with the full per-class confidence map.
func (c *Classifier) Predict(inputData []float32) (*Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if want := len(c.inputTensor.GetData()); len(inputData) != want {
		return nil, fmt.Errorf("expected %d input values, got %d", want, len(inputData))
	}
	copy(c.inputTensor.GetData(), inputData)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := c.outputTensor.GetData()
	confidences := make(map[string]float32, len(c.Metadata.Classes))
	maxIdx := 0
	maxVal := float32(0)
	for i, class := range c.Metadata.Classes {
		if i >= len(scores) {
			break
		}
		confidences[class] = scores[i]
		if i == 0 || scores[i] > maxVal {
			maxVal = scores[i]
			maxIdx = i
		}
	}

	return &Verdict{
		Class:       c.Metadata.Classes[maxIdx],
		Confidence:  maxVal,
		Confidences: confidences,
	}, nil
}

// Close releases the session and tensors. The Classifier is unusable
// afterwards.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
}
