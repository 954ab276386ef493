package config

//go:generate go tool go-enum --names --marshal

// Specification of image resizing mode for cover thumbnails.
// ENUM(none, keepAR, stretch)
type ImageResizeMode int
