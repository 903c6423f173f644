package project

import "fmt"

// Run wires the service and prints a user.
func Run(repo Repository) error {
	svc := NewUserService(repo)
	user, err := svc.CreateUser("ada", "ada@example.com")
	if err != nil {
		return err
	}
	fmt.Println(user.Name)
	return nil
}
