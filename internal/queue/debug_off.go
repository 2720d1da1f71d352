//go:build !dmqdebug

package queue

const forceDebug = false
