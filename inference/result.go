package inference

// DecisionThreshold separates the two classes. A probability must be strictly
// greater than the threshold to be labelled Stroke.
const DecisionThreshold = 0.5

// Label is the predicted class of a scan.
type Label string

const (
	// LabelStroke means the model found signs of stroke.
	LabelStroke Label = "Stroke"
	// LabelNormal means the scan was classified as normal.
	LabelNormal Label = "Normal"
)

// Resolution is the canonical width and height scans are resized to.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PredictionResult is the outcome of one inference call.
type PredictionResult struct {
	// Probability is the model's stroke probability in [0, 1].
	Probability float64 `json:"probability"`
	// Label is the thresholded class.
	Label Label `json:"label"`
	// ConfidencePercent is the probability of the chosen class, in [0, 100].
	ConfidencePercent float64 `json:"confidence_percent"`
	// LatencySeconds covers preprocessing and prediction.
	LatencySeconds float64 `json:"latency_seconds"`
	// FeatureCount is the number of GA-selected features fed to the model.
	FeatureCount int `json:"feature_count"`
	// Resolution is the size scans were resized to before masking.
	Resolution Resolution `json:"resolution"`
	// Model is the display name of the classifier.
	Model string `json:"model,omitempty"`
}

// Interpret applies the decision policy to a stroke probability.
//
// Arguments:
//   - probability: The model output in [0, 1].
//
// Returns:
//   - Label: Stroke if probability > 0.5, otherwise Normal.
//   - float64: The confidence percentage toward the returned label.
//
// @example
// label, confidence := Interpret(0.5) // Normal, 50
func Interpret(probability float64) (Label, float64) {
	if probability > DecisionThreshold {
		return LabelStroke, probability * 100
	}
	return LabelNormal, (1 - probability) * 100
}
