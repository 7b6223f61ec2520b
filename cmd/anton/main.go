// Anton - 7-day onboarding companion
package main

func main() {
	Execute()
}
