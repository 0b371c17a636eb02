// Package vclass provides shared constants and validation for vehicle classes
package vclass

// Class constants, matching the labels emitted by the external tracker.
const (
	Car        = "car"
	Motorcycle = "motorcycle"
	Bus        = "bus"
	Truck      = "truck"
)

// ValidClasses contains all valid class values
var ValidClasses = []string{Car, Motorcycle, Bus, Truck}

// IsValid checks if the given class is in the list of valid classes
func IsValid(class string) bool {
	for _, validClass := range ValidClasses {
		if class == validClass {
			return true
		}
	}
	return false
}

// GetValidClassesString returns a comma-separated string of valid classes for error messages
func GetValidClassesString() string {
	return "car, motorcycle, bus, truck"
}

// DefaultWeight returns the default demand weight for a vehicle class.
// Weights follow passenger-car-unit factors; unknown classes count as one car.
func DefaultWeight(class string) float64 {
	switch class {
	case Motorcycle:
		return 0.5
	case Bus:
		return 2.5
	case Truck:
		return 2.0
	case Car:
		return 1.0
	default:
		return 1.0
	}
}
