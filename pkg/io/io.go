package io

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"attrition/pkg/model"
)

//go:embed sample/employees.csv
var sampleCorpus []byte

type DataError struct {
	Line  int
	Error string
}

// SampleReader returns a reader over the bundled sample corpus.
func SampleReader() io.Reader {
	return bytes.NewReader(sampleCorpus)
}

// LoadFile reads a corpus file, or the bundled sample when fileName is empty.
func LoadFile(fileName string, schema model.Schema) ([]model.Record, []DataError, error) {
	if fileName == "" {
		return LoadRecords(SampleReader(), schema)
	}
	inputFile, err := os.Open(fileName)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()
	return LoadRecords(inputFile, schema)
}

// LoadRecords reads a CSV corpus with a header row. Lines failing schema validation are
// reported as DataErrors and skipped.
func LoadRecords(input io.Reader, schema model.Schema) ([]model.Record, []DataError, error) {
	reader := csv.NewReader(input)
	reader.Comma = ','

	//First line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading data header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if err := checkHeader(header, schema); err != nil {
		return nil, nil, err
	}

	var records []model.Record
	var dataErrors []DataError
	currentLine := 1
	for row, err := reader.Read(); err != io.EOF; row, err = reader.Read() {
		currentLine++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, nil, fmt.Errorf("error reading data: %w", err)
			}
			dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
			continue
		}
		fields := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(row) {
				fields[column] = row[i]
			}
		}
		record, err := schema.ParseRecord(fields)
		if err != nil {
			dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
			continue
		}
		records = append(records, record)
	}

	return records, dataErrors, nil
}

func checkHeader(header []string, schema model.Schema) error {
	columns := make(map[string]bool, len(header))
	for _, column := range header {
		columns[column] = true
	}
	if !columns[schema.Label] {
		return fmt.Errorf("target column %s not found in data header", schema.Label)
	}
	for _, f := range schema.Features {
		if !columns[f] {
			return fmt.Errorf("feature column %s not found in data header", f)
		}
	}
	return nil
}

func SaveModel(model *model.Model, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	err := encoder.Encode(model)
	if err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

func LoadModel(input io.Reader) (*model.Model, error) {
	decoder := gob.NewDecoder(input)
	model := model.Model{}
	err := decoder.Decode(&model)
	if err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	return &model, nil
}

// SaveModelFile writes the model to fileName.
func SaveModelFile(m *model.Model, fileName string) error {
	outputFile, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating output file %s: %w", fileName, err)
	}
	if err := SaveModel(m, outputFile); err != nil {
		outputFile.Close()
		return err
	}
	return outputFile.Close()
}

func LoadModelFile(fileName string) (*model.Model, error) {
	modelFile, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("error opening model file %s: %w", fileName, err)
	}
	defer modelFile.Close()
	return LoadModel(modelFile)
}
