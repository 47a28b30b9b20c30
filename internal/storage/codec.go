package storage

import (
	"encoding/json"
	"errors"

	"adversary/internal/model"
)

const (
	CurrentSchemaVersion = model.SchemaVersion
	CurrentCodecVersion  = model.CodecVersion
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeAnalysis(r model.AnalysisResult) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeAnalysis(data []byte) (model.AnalysisResult, error) {
	var result model.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return model.AnalysisResult{}, err
	}
	if err := checkVersion(result.VersionedRecord); err != nil {
		return model.AnalysisResult{}, err
	}
	return result, nil
}

func EncodeVulnerability(v model.Vulnerability) ([]byte, error) {
	return json.Marshal(v)
}

func DecodeVulnerability(data []byte) (model.Vulnerability, error) {
	var vuln model.Vulnerability
	if err := json.Unmarshal(data, &vuln); err != nil {
		return model.Vulnerability{}, err
	}
	if err := checkVersion(vuln.VersionedRecord); err != nil {
		return model.Vulnerability{}, err
	}
	return vuln, nil
}

func EncodeTrainingSample(s model.TrainingSample) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeTrainingSample(data []byte) (model.TrainingSample, error) {
	var sample model.TrainingSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return model.TrainingSample{}, err
	}
	if err := checkVersion(sample.VersionedRecord); err != nil {
		return model.TrainingSample{}, err
	}
	return sample, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
