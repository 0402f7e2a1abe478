package model

// Image is the slice of an image repository record the batch pipeline reads.
type Image struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"datasetId"`
	Name      string `json:"name"`
	SizeZ     int    `json:"sizeZ"`
}

// Selection names the images to process, either directly or by dataset.
type Selection struct {
	DataType DataType `json:"dataType" yaml:"dataType" validate:"required,oneof=Image Dataset"`
	IDs      []int64  `json:"ids" yaml:"ids" validate:"required,min=1,dive,gt=0"`
}
