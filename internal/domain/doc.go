// Package domain holds the camera, schedule, vehicle and alert types shared by
// the scheduling and alerting components, plus the error taxonomy they report.
package domain
