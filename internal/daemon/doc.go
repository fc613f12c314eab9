// Package daemon provides the main orchestration for audiopriod.
// It coordinates the endpoint cache, the priority lists, the assignment
// scheduler, desktop notifications and configuration hot-reload.
package daemon
